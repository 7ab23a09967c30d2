package index

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
)

// EntryCacheConfig holds L1 cache configuration.
type EntryCacheConfig struct {
	MaxMemoryMB int64         `json:"maxMemoryMB" yaml:"maxMemoryMB"` // Max memory in MB (default: 32)
	TTL         time.Duration `json:"ttl" yaml:"ttl"`                 // Entry TTL (default: 1 minute)
	Enabled     bool          `json:"enabled" yaml:"enabled"`
}

// DefaultEntryCacheConfig returns default L1 cache configuration.
func DefaultEntryCacheConfig() EntryCacheConfig {
	return EntryCacheConfig{
		MaxMemoryMB: 32,
		TTL:         time.Minute,
		Enabled:     true,
	}
}

// cachedEntries wraps a lookup result with size tracking and TTL.
type cachedEntries struct {
	Entries   []IndexEntry
	Size      int64
	ExpiresAt time.Time
}

// EntryCacheStats represents L1 cache statistics.
type EntryCacheStats struct {
	MaxMemory  int64
	UsedMemory int64
	Items      int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Expired    uint64
	HitRate    float64
}

// EntryCache provides in-process LRU caching of index lookups with TTL and a
// memory bound. Keys combine tenant and reference hash so one tenant's
// invalidation never touches another's entries.
type EntryCache struct {
	lru        *lru.Cache[string, *cachedEntries]
	maxMemory  int64
	usedMemory int64
	ttl        time.Duration
	mu         sync.RWMutex
	logger     *logging.Logger

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// NewEntryCache creates an L1 cache with the specified configuration.
func NewEntryCache(config EntryCacheConfig) (*EntryCache, error) {
	if config.MaxMemoryMB <= 0 {
		return nil, models.NewValidationError("MaxMemoryMB must be positive, got %d", config.MaxMemoryMB)
	}
	if config.TTL <= 0 {
		return nil, models.NewValidationError("TTL must be positive, got %v", config.TTL)
	}

	c := &EntryCache{
		maxMemory: config.MaxMemoryMB * 1024 * 1024,
		ttl:       config.TTL,
		logger:    logging.GetLogger("index.l1"),
	}

	lruCache, err := lru.NewWithEvict[string, *cachedEntries](10000, func(key string, value *cachedEntries) {
		c.onEvict(key, value)
	})
	if err != nil {
		return nil, err
	}

	c.lru = lruCache
	c.logger.Debug("Entry cache initialized: maxMemory=%dMB, TTL=%v", config.MaxMemoryMB, config.TTL)
	return c, nil
}

// cacheKey namespaces a reference hash under its tenant.
func cacheKey(tenantID, hash string) string {
	return tenantID + ":" + hash
}

func (c *EntryCache) onEvict(key string, entry *cachedEntries) {
	atomic.AddUint64(&c.evictions, 1)
	atomic.AddInt64(&c.usedMemory, -entry.Size)
}

// Get retrieves cached entries for a tenant's reference hash. The second
// return reports presence: a cached empty result is a valid hit.
func (c *EntryCache) Get(tenantID, hash string) ([]IndexEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.lru.Get(cacheKey(tenantID, hash))
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		atomic.AddUint64(&c.expired, 1)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return entry.Entries, true
}

// Put stores a lookup result, evicting oldest entries under memory pressure.
func (c *EntryCache) Put(tenantID, hash string, entries []IndexEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(tenantID, hash)
	size := estimateEntriesSize(entries)

	// Remove fires the eviction callback, which releases the old size.
	c.lru.Remove(key)

	currentUsed := atomic.LoadInt64(&c.usedMemory)
	if currentUsed+size > c.maxMemory {
		for currentUsed+size > c.maxMemory && c.lru.Len() > 0 {
			c.lru.RemoveOldest()
			currentUsed = atomic.LoadInt64(&c.usedMemory)
		}
		if currentUsed+size > c.maxMemory {
			c.logger.Warn("Entry cache PUT REJECTED: key=%s, size=%dKB, reason=exceeds_memory",
				key, size/1024)
			return
		}
	}

	c.lru.Add(key, &cachedEntries{
		Entries:   entries,
		Size:      size,
		ExpiresAt: time.Now().Add(c.ttl),
	})
	atomic.AddInt64(&c.usedMemory, size)
}

// Invalidate removes one tenant's cached hash.
func (c *EntryCache) Invalidate(tenantID, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(cacheKey(tenantID, hash))
}

// InvalidateTenant removes every cached entry of one tenant. Used after an
// index build rewrites the tenant's entries.
func (c *EntryCache) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := tenantID + ":"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	c.logger.Debug("Entry cache INVALIDATE TENANT: tenant=%s", tenantID)
}

// Clear removes all entries.
func (c *EntryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	atomic.StoreInt64(&c.usedMemory, 0)
}

// Stats returns cache statistics.
func (c *EntryCache) Stats() EntryCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return EntryCacheStats{
		MaxMemory:  c.maxMemory,
		UsedMemory: atomic.LoadInt64(&c.usedMemory),
		Items:      c.lru.Len(),
		Hits:       hits,
		Misses:     misses,
		Evictions:  atomic.LoadUint64(&c.evictions),
		Expired:    atomic.LoadUint64(&c.expired),
		HitRate:    hitRate,
	}
}

// estimateEntriesSize estimates the memory footprint of a lookup result.
func estimateEntriesSize(entries []IndexEntry) int64 {
	size := int64(200)
	for _, entry := range entries {
		b, err := json.Marshal(entry)
		if err == nil {
			size += int64(len(b))
		} else {
			size += 512
		}
	}
	return size
}
