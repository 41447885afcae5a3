package segmentation

import (
	"context"
	"sync"
	"time"
)

// CacheEntry is a cached member set. Fingerprint is the rule tree
// fingerprint the set was evaluated from.
type CacheEntry struct {
	Members     []string  `json:"members"`
	Fingerprint string    `json:"fingerprint"`
	CachedAt    time.Time `json:"cachedAt"`
}

// Cache holds evaluated member sets keyed by segment id. A miss, including an
// expired entry, reports ok=false; it never means "no members".
type Cache interface {
	Get(ctx context.Context, segmentID string) (entry *CacheEntry, ok bool, err error)
	Put(ctx context.Context, segmentID string, entry CacheEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, segmentID string) error
}

type memoryItem struct {
	entry     CacheEntry
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, segmentID string) (*CacheEntry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[segmentID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.After(c.now()) {
		c.mu.Lock()
		if cur, still := c.items[segmentID]; still && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.items, segmentID)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	entry := item.entry
	entry.Members = append([]string(nil), item.entry.Members...)
	return &entry, true, nil
}

func (c *MemoryCache) Put(_ context.Context, segmentID string, entry CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	entry.Members = append([]string(nil), entry.Members...)
	c.mu.Lock()
	c.items[segmentID] = memoryItem{entry: entry, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, segmentID string) error {
	c.mu.Lock()
	delete(c.items, segmentID)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
