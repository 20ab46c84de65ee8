package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const memoryShards = 32

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// MemoryBackend keeps entries in sharded maps. Expiry is enforced by the
// Store on read.
type MemoryBackend struct {
	shards [memoryShards]memoryShard
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{}
	for i := range b.shards {
		b.shards[i].entries = make(map[string]Entry)
	}
	return b
}

func memoryKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}

func (b *MemoryBackend) shard(k string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return &b.shards[h.Sum32()%memoryShards]
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, kind Kind, key string) (*Entry, error) {
	k := memoryKey(kind, key)
	sh := b.shard(k)

	sh.mu.RLock()
	e, ok := sh.entries[k]
	sh.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, entry Entry, _ time.Duration) error {
	k := memoryKey(entry.Kind, entry.Key)
	sh := b.shard(k)

	sh.mu.Lock()
	sh.entries[k] = entry
	sh.mu.Unlock()
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, kind Kind, key string) error {
	k := memoryKey(kind, key)
	sh := b.shard(k)

	sh.mu.Lock()
	delete(sh.entries, k)
	sh.mu.Unlock()
	return nil
}

// Sweep drops every entry expired at now and returns how many were removed.
func (b *MemoryBackend) Sweep(now time.Time) int {
	removed := 0
	for i := range b.shards {
		sh := &b.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.Expired(now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (b *MemoryBackend) Len() int {
	n := 0
	for i := range b.shards {
		sh := &b.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// RunSweeper removes expired entries every interval until ctx is done.
func (b *MemoryBackend) RunSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := b.Sweep(now); n > 0 {
				logger.Debug("Expired cache entries swept", zap.Int("removed", n))
			}
		}
	}
}
