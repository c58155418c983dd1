// Package cache provides memory and disk caches for search oracle results.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ppiankov/kurral/internal/model"
)

// keyVersion is bumped when the cached payload shape changes
const keyVersion = "v1"

// Cache stores opaque payloads under hashed keys
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// Key builds a versioned key for namespace from the lookup parts
func Key(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return namespace + ":" + keyVersion + ":" + hex.EncodeToString(hash[:])
}

// FromConfig builds the cache described by cfg, or nil when caching is disabled
func FromConfig(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	mem := NewMemory(cfg.MemoryTTL)
	if cfg.Dir == "" {
		return mem
	}
	return NewLayered(mem, NewDisk(cfg.Dir, cfg.DiskTTL))
}
