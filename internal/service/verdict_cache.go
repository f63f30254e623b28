// Package service contains the application services of the moderation core:
// verdict caching, budget enforcement, the sharded queue, the per-shard
// moderation worker, the action outbox, and the usage rollup.
package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hmcelik/aegis-moderation/internal/domain/content"
	"github.com/hmcelik/aegis-moderation/internal/domain/policy"
)

// VerdictCacheConfig configures the verdict cache.
type VerdictCacheConfig struct {
	// TTL is the default entry lifetime.
	TTL time.Duration
	// MaxEntries caps the cache; inserting past the cap evicts from the
	// cold end of the LRU list.
	MaxEntries int
	// CleanupInterval is how often the background sweep removes expired
	// entries.
	CleanupInterval time.Duration
}

// DefaultVerdictCacheConfig returns the shipped cache settings.
func DefaultVerdictCacheConfig() VerdictCacheConfig {
	return VerdictCacheConfig{
		TTL:             10 * time.Minute,
		MaxEntries:      10_000,
		CleanupInterval: time.Minute,
	}
}

// VerdictCacheMetrics is a point-in-time view of cache effectiveness.
type VerdictCacheMetrics struct {
	HitCount              int64
	MissCount             int64
	HitRate               float64
	TotalEntries          int
	EvictedCount          int64
	TotalMemoryUsageBytes int64
	AverageEntrySize      float64
}

// verdictEntry is a doubly-linked LRU node holding one cached verdict.
type verdictEntry struct {
	key        content.Fingerprint
	verdict    policy.PolicyVerdict
	insertedAt time.Time
	expiresAt  time.Time
	hits       int64
	size       int64
	prev, next *verdictEntry
}

// VerdictCache caches policy verdicts keyed by the content fingerprint.
// TTL and LRU bound the cache; a background sweep removes expired entries.
// Readers never observe torn entries: all mutation happens under one mutex.
type VerdictCache struct {
	mu      sync.Mutex
	entries map[content.Fingerprint]*verdictEntry
	head    *verdictEntry // most recently used
	tail    *verdictEntry // coldest; evicted first
	cfg     VerdictCacheConfig

	hits     int64
	misses   int64
	evicted  int64
	memBytes int64

	logger    *slog.Logger
	stopChan  chan struct{}
	reconfig  chan time.Duration
	wg        sync.WaitGroup
	destroyed sync.Once
}

// NewVerdictCache creates the cache and starts its background cleanup task.
// Destroy must be called to stop the task and release memory.
func NewVerdictCache(cfg VerdictCacheConfig, logger *slog.Logger) *VerdictCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultVerdictCacheConfig().TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultVerdictCacheConfig().MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultVerdictCacheConfig().CleanupInterval
	}

	c := &VerdictCache{
		entries:  make(map[content.Fingerprint]*verdictEntry),
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
		reconfig: make(chan time.Duration, 1),
	}

	c.wg.Add(1)
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

// Get returns the cached verdict for the content, or false on miss.
// Expired entries are removed on access and count as misses. A hit promotes
// the entry to the warm end of the LRU list and increments its hit counter.
func (c *VerdictCache) Get(nc content.NormalizedContent) (policy.PolicyVerdict, bool) {
	key := content.FingerprintOf(nc)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return policy.PolicyVerdict{}, false
	}
	if now.After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return policy.PolicyVerdict{}, false
	}

	e.hits++
	c.hits++
	c.moveToHeadLocked(e)
	return e.verdict, true
}

// Set stores a verdict for the content. A non-positive ttl uses the default.
// Inserting past MaxEntries evicts cold entries until the cache fits.
func (c *VerdictCache) Set(nc content.NormalizedContent, v policy.PolicyVerdict, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl()
	}
	key := content.FingerprintOf(nc)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.memBytes += entrySize(v) - e.size
		e.verdict = v
		e.size = entrySize(v)
		e.insertedAt = now
		e.expiresAt = now.Add(ttl)
		c.moveToHeadLocked(e)
		return
	}

	for len(c.entries) >= c.maxEntriesLocked() {
		c.evictTailLocked()
	}

	e := &verdictEntry{
		key:        key,
		verdict:    v,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
		size:       entrySize(v),
	}
	c.entries[key] = e
	c.memBytes += e.size
	c.pushHeadLocked(e)
}

// Clear removes all entries without touching hit/miss counters.
func (c *VerdictCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[content.Fingerprint]*verdictEntry)
	c.head, c.tail = nil, nil
	c.memBytes = 0
}

// UpdateConfig applies new TTL, size cap, and cleanup interval. Existing
// entries keep their expiry; a smaller cap evicts immediately.
func (c *VerdictCache) UpdateConfig(cfg VerdictCacheConfig) {
	c.mu.Lock()
	if cfg.TTL > 0 {
		c.cfg.TTL = cfg.TTL
	}
	if cfg.MaxEntries > 0 {
		c.cfg.MaxEntries = cfg.MaxEntries
		for len(c.entries) > c.cfg.MaxEntries {
			c.evictTailLocked()
		}
	}
	interval := time.Duration(0)
	if cfg.CleanupInterval > 0 {
		c.cfg.CleanupInterval = cfg.CleanupInterval
		interval = cfg.CleanupInterval
	}
	c.mu.Unlock()

	if interval > 0 {
		select {
		case c.reconfig <- interval:
		default:
		}
	}
}

// GetMetrics returns a snapshot of cache effectiveness counters.
func (c *VerdictCache) GetMetrics() VerdictCacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := VerdictCacheMetrics{
		HitCount:              c.hits,
		MissCount:             c.misses,
		TotalEntries:          len(c.entries),
		EvictedCount:          c.evicted,
		TotalMemoryUsageBytes: c.memBytes,
	}
	if total := c.hits + c.misses; total > 0 {
		m.HitRate = float64(c.hits) / float64(total)
	}
	if len(c.entries) > 0 {
		m.AverageEntrySize = float64(c.memBytes) / float64(len(c.entries))
	}
	return m
}

// Destroy stops the cleanup task and releases all memory. Safe to call
// multiple times.
func (c *VerdictCache) Destroy() {
	c.destroyed.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()

	c.mu.Lock()
	c.entries = make(map[content.Fingerprint]*verdictEntry)
	c.head, c.tail = nil, nil
	c.memBytes = 0
	c.mu.Unlock()
}

func (c *VerdictCache) ttl() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.TTL
}

func (c *VerdictCache) maxEntriesLocked() int { return c.cfg.MaxEntries }

// cleanupLoop periodically sweeps expired entries until Destroy.
// The ticker is rebuilt when UpdateConfig changes the interval.
func (c *VerdictCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case next := <-c.reconfig:
			ticker.Reset(next)
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes all expired entries.
func (c *VerdictCache) sweep() {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 && c.logger != nil {
		c.logger.Debug("verdict cache sweep completed",
			"removed", removed,
			"remaining", remaining)
	}
}

// removeLocked deletes an entry without counting it as an eviction.
func (c *VerdictCache) removeLocked(e *verdictEntry) {
	delete(c.entries, e.key)
	c.memBytes -= e.size
	c.unlinkLocked(e)
}

// evictTailLocked removes the coldest entry and counts the eviction.
func (c *VerdictCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	c.removeLocked(c.tail)
	c.evicted++
}

func (c *VerdictCache) moveToHeadLocked(e *verdictEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *VerdictCache) pushHeadLocked(e *verdictEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *VerdictCache) unlinkLocked(e *verdictEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if c.head == e {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if c.tail == e {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// entrySize approximates the heap footprint of a cached verdict: key, struct
// overhead, and the variable-length strings and maps it carries.
func entrySize(v policy.PolicyVerdict) int64 {
	size := int64(len(content.Fingerprint{})) + 96 // key + fixed overhead
	size += int64(len(v.Reason))
	for id := range v.Scores {
		size += int64(len(id)) + 8
	}
	for _, name := range v.RulesMatched {
		size += int64(len(name)) + 16
	}
	return size
}
