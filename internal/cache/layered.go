package cache

import (
	"time"

	"github.com/ppiankov/kurral/internal/metrics"
)

// Layered reads through memory to disk and writes to both
type Layered struct {
	memory *Memory
	disk   *Disk
}

// NewLayered combines a memory cache in front of a disk cache
func NewLayered(memory *Memory, disk *Disk) *Layered {
	return &Layered{memory: memory, disk: disk}
}

// Get promotes disk hits into memory for the entry's remaining lifetime
func (l *Layered) Get(key string) ([]byte, bool) {
	if v, ok := l.memory.Get(key); ok {
		return v, true
	}
	e, ok := l.disk.entry(key)
	metrics.ObserveCache("disk", ok)
	if !ok {
		return nil, false
	}
	if remaining := e.ExpiresAt.Sub(l.disk.Now()); remaining > 0 {
		_ = l.memory.Set(key, e.Data, remaining)
	}
	return e.Data, true
}

func (l *Layered) Set(key string, value []byte, ttl time.Duration) error {
	if err := l.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return l.disk.Set(key, value, ttl)
}

func (l *Layered) Delete(key string) error {
	_ = l.memory.Delete(key)
	return l.disk.Delete(key)
}
