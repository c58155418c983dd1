package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/kurral/internal/metrics"
)

// Memory is a process-local cache with per-entry expiry
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates a memory cache; expired entries are swept every ttl (at least once a minute)
func NewMemory(ttl time.Duration) *Memory {
	sweep := ttl
	if sweep <= 0 || sweep > time.Minute {
		sweep = time.Minute
	}
	return &Memory{items: gocache.New(ttl, sweep)}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.items.Get(key)
	metrics.ObserveCache("memory", ok)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Set stores value; ttl 0 uses the cache default
func (m *Memory) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.items.Delete(key)
	return nil
}

// Len returns the number of entries, including expired ones not yet swept
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
