package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/kurral/internal/metrics"
)

// Disk persists entries as JSON files sharded by key hash prefix
type Disk struct {
	dir string
	ttl time.Duration

	// Now is the clock used for expiry
	Now func() time.Time
}

// NewDisk creates a disk cache rooted at dir; ttl is the default entry lifetime
func NewDisk(dir string, ttl time.Duration) *Disk {
	return &Disk{dir: dir, ttl: ttl, Now: time.Now}
}

type diskEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (d *Disk) Get(key string) ([]byte, bool) {
	e, ok := d.entry(key)
	metrics.ObserveCache("disk", ok)
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// entry loads a live entry, removing it when expired or unreadable
func (d *Disk) entry(key string) (diskEntry, bool) {
	path := d.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return diskEntry{}, false
	}

	var e diskEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Key != key || !d.Now().Before(e.ExpiresAt) {
		_ = os.Remove(path)
		return diskEntry{}, false
	}
	return e, true
}

// Set writes value atomically; ttl 0 uses the cache default
func (d *Disk) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = d.ttl
	}
	raw, err := json.Marshal(diskEntry{Key: key, Data: value, ExpiresAt: d.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (d *Disk) Delete(key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// path shards files by the first two characters of the key hash
func (d *Disk) path(key string) string {
	name := strings.ReplaceAll(key, ":", "_")
	hash := key[strings.LastIndex(key, ":")+1:]
	shard := "00"
	if len(hash) >= 2 {
		shard = hash[:2]
	}
	return filepath.Join(d.dir, shard, name+".json")
}
