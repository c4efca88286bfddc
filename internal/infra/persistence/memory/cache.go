package memory

import (
	"context"
	"sync"
	"time"

	"situation-room/internal/repository"
)

// ReportCache 是 ReportCache 的内存实现，在没有 Redis 的部署中使用
type ReportCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	payload  []byte
	expireAt time.Time
}

func NewReportCache() *ReportCache {
	return &ReportCache{entries: make(map[string]cacheEntry)}
}

func (c *ReportCache) Get(ctx context.Context, roomCode string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[roomCode]
	c.mu.RUnlock()
	if !ok || (!entry.expireAt.IsZero() && time.Now().After(entry.expireAt)) {
		return nil, repository.ErrCacheMiss
	}
	out := make([]byte, len(entry.payload))
	copy(out, entry.payload)
	return out, nil
}

func (c *ReportCache) Set(ctx context.Context, roomCode string, payload []byte, ttl time.Duration) error {
	entry := cacheEntry{payload: append([]byte(nil), payload...)}
	if ttl > 0 {
		entry.expireAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[roomCode] = entry
	c.mu.Unlock()
	return nil
}
