package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Namespace identifies one of the independent cache tiers.
type Namespace string

// Cache namespaces. Entries in one namespace never affect another.
const (
	NamespaceQuery     Namespace = "query"
	NamespaceExistence Namespace = "existence"
	NamespaceStats     Namespace = "stats"
)

func allNamespaces() []Namespace {
	return []Namespace{NamespaceQuery, NamespaceExistence, NamespaceStats}
}

// cacheEntry is valid iff now - createdAt < ttl.
type cacheEntry struct {
	data      any
	createdAt time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// CacheConfig holds the cache tunables.
type CacheConfig struct {
	DefaultTTL    time.Duration // default 5m
	SweepInterval time.Duration // default 1m
	MaxEntries    int           // per namespace, default 10000
}

func (c *CacheConfig) applyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
}

// Cache is the three-tier TTL cache for query results, node existence, and
// aggregate stats. Reads evict lazily; a periodic sweep bounds memory
// independent of read traffic.
type Cache struct {
	mu     sync.RWMutex
	spaces map[Namespace]map[string]cacheEntry
	cfg    CacheConfig
	now    func() time.Time
	logger *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	once    sync.Once
}

// NewCache creates the cache. Call Start to run the periodic sweep and
// Stop to shut it down; Stop without Start is a no-op.
func NewCache(cfg CacheConfig, logger *slog.Logger) *Cache {
	cfg.applyDefaults()
	spaces := make(map[Namespace]map[string]cacheEntry, 3)
	for _, ns := range allNamespaces() {
		spaces[ns] = make(map[string]cacheEntry)
	}
	return &Cache{
		spaces: spaces,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Get returns the cached value, evicting and missing when expired.
func (c *Cache) Get(ns Namespace, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	space, ok := c.spaces[ns]
	if !ok {
		return nil, false
	}
	entry, ok := space[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.now()) {
		delete(space, key)
		return nil, false
	}
	return entry.data, true
}

// Set stores a value with the caller's TTL, or the namespace default when
// ttl is zero or negative. When the namespace is full, expired entries are
// purged first and the oldest entry is dropped if it is still full.
func (c *Cache) Set(ns Namespace, key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	space, ok := c.spaces[ns]
	if !ok {
		return
	}

	if len(space) >= c.cfg.MaxEntries {
		now := c.now()
		for k, e := range space {
			if e.expired(now) {
				delete(space, k)
			}
		}
		if len(space) >= c.cfg.MaxEntries {
			var oldestKey string
			var oldest time.Time
			for k, e := range space {
				if oldestKey == "" || e.createdAt.Before(oldest) {
					oldestKey = k
					oldest = e.createdAt
				}
			}
			delete(space, oldestKey)
		}
	}

	space[key] = cacheEntry{data: data, createdAt: c.now(), ttl: ttl}
}

// Delete removes one entry.
func (c *Cache) Delete(ns Namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if space, ok := c.spaces[ns]; ok {
		delete(space, key)
	}
}

// ClearAll empties every namespace unconditionally. Destructive graph-wide
// operations call this after completing.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ns := range c.spaces {
		c.spaces[ns] = make(map[string]cacheEntry)
	}
}

// Len returns the number of entries in one namespace, expired included.
func (c *Cache) Len(ns Namespace) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.spaces[ns])
}

// Sweep removes expired entries across all namespaces and returns the
// number purged.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for _, space := range c.spaces {
		for k, e := range space {
			if e.expired(now) {
				delete(space, k)
				purged++
			}
		}
	}
	return purged
}

// Start begins the periodic sweep loop. Call Stop to terminate it.
func (c *Cache) Start() {
	c.started = true
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()

		c.logger.Debug("cache sweep started", "interval", c.cfg.SweepInterval.String())
		for {
			select {
			case <-ticker.C:
				if purged := c.Sweep(); purged > 0 {
					c.logger.Debug("cache sweep purged entries", "count", purged)
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to finish. Safe to call more
// than once and safe when Start was never called.
func (c *Cache) Stop() {
	c.once.Do(func() {
		close(c.stopCh)
		if c.started {
			<-c.doneCh
		}
	})
}

// cacheKey derives a deterministic key from an operation name and its
// normalized inputs, so identical effective calls share one entry.
func cacheKey(op string, parts ...string) string {
	return op + ":" + strings.Join(parts, ":")
}

// normalizeFilters renders a filter map as sorted key=value pairs.
func normalizeFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(filters))
	for k, v := range filters {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
