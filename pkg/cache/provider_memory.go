package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"
)

// memoryItem represents a cached item in memory.
type memoryItem struct {
	value      []byte
	expiration time.Time
	lastAccess atomic.Int64
}

func (m *memoryItem) isExpired(now time.Time) bool {
	return !m.expiration.IsZero() && now.After(m.expiration)
}

// MemoryProvider is an in-process cache with LRU eviction once MaxSize is reached.
type MemoryProvider struct {
	mu      sync.RWMutex
	items   map[string]*memoryItem
	options *Options
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

// NewMemoryProvider creates a new in-memory cache provider.
func NewMemoryProvider(opts *Options) *MemoryProvider {
	return &MemoryProvider{
		items:   make(map[string]*memoryItem),
		options: opts.withDefaults(),
		now:     time.Now,
	}
}

func (m *MemoryProvider) Name() string { return "memory" }

// Get retrieves a value from the cache by key.
func (m *MemoryProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	now := m.now()

	m.mu.RLock()
	item, exists := m.items[key]
	m.mu.RUnlock()

	if !exists {
		m.misses.Add(1)
		return nil, false
	}
	if item.isExpired(now) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && cur == item {
			delete(m.items, key)
		}
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, false
	}

	item.lastAccess.Store(now.UnixNano())
	m.hits.Add(1)
	return item.value, true
}

// Set stores a value in the cache with the specified TTL.
func (m *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.options.DefaultTTL
	}
	now := m.now()

	item := &memoryItem{value: value}
	if ttl > 0 {
		item.expiration = now.Add(ttl)
	}
	item.lastAccess.Store(now.UnixNano())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items == nil {
		return fmt.Errorf("memory cache is closed")
	}
	if _, exists := m.items[key]; !exists && len(m.items) >= m.options.MaxSize {
		m.evictOne(now)
	}
	m.items[key] = item
	return nil
}

// Delete removes a key from the cache.
func (m *MemoryProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// DeleteByPattern removes all keys matching a glob pattern such as "history:*".
func (m *MemoryProvider) DeleteByPattern(ctx context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.items {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.items, key)
		}
	}
	return nil
}

// Clear removes all items from the cache.
func (m *MemoryProvider) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memoryItem)
	m.hits.Store(0)
	m.misses.Store(0)
	return nil
}

// Exists checks if a key exists in the cache.
func (m *MemoryProvider) Exists(ctx context.Context, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, exists := m.items[key]
	return exists && !item.isExpired(m.now())
}

// Close drops every item; later writes fail.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

// Stats returns statistics about the cache provider.
func (m *MemoryProvider) Stats(ctx context.Context) (*CacheStats, error) {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	valid := 0
	for _, item := range m.items {
		if !item.isExpired(now) {
			valid++
		}
	}

	return &CacheStats{
		Hits:         m.hits.Load(),
		Misses:       m.misses.Load(),
		Keys:         int64(valid),
		ProviderType: m.Name(),
		ProviderStats: map[string]any{
			"capacity": m.options.MaxSize,
		},
	}, nil
}

// evictOne drops an expired item if there is one, else the least recently used.
// Caller holds the write lock.
func (m *MemoryProvider) evictOne(now time.Time) {
	var oldestKey string
	var oldest int64

	for key, item := range m.items {
		if item.isExpired(now) {
			delete(m.items, key)
			return
		}
		if at := item.lastAccess.Load(); oldestKey == "" || at < oldest {
			oldestKey, oldest = key, at
		}
	}
	if oldestKey != "" {
		delete(m.items, oldestKey)
	}
}

// CleanExpired removes all expired items and returns how many were dropped.
func (m *MemoryProvider) CleanExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key, item := range m.items {
		if item.isExpired(now) {
			delete(m.items, key)
			count++
		}
	}
	return count
}
