package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
)

const (
	// DefaultCapacity bounds a cache when the config does not.
	DefaultCapacity = 512

	// DefaultTTL applies to Set calls with a non-positive ttl.
	DefaultTTL = 5 * time.Minute
)

// Config holds TimedCache settings.
type Config struct {
	// Name identifies the instance in logs, metrics and the backend key.
	// Required.
	Name string

	// Capacity is the maximum number of entries. Defaults to DefaultCapacity.
	Capacity int

	// DefaultTTL applies when Set is called with a non-positive ttl.
	// Defaults to DefaultTTL.
	DefaultTTL time.Duration

	// Backend makes the instance durable. Nil means volatile.
	Backend Backend
}

// TimedCache is a capacity-bounded TTL cache. Reads check expiry before
// returning; capacity pressure evicts the entry with the oldest last-access
// time. All methods are safe for concurrent use.
type TimedCache[V any] struct {
	name       string
	capacity   int
	defaultTTL time.Duration
	backend    Backend
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[V]
	order   *lruList
}

// New creates a TimedCache. When cfg.Backend is set, the previous snapshot
// is reloaded and expired entries are pruned before the cache is returned.
func New[V any](cfg Config) (*TimedCache[V], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("cache name is required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}

	c := &TimedCache[V]{
		name:       cfg.Name,
		capacity:   cfg.Capacity,
		defaultTTL: cfg.DefaultTTL,
		backend:    cfg.Backend,
		logger:     logging.NewLogger("cache").With().Str("cache", cfg.Name).Logger(),
		now:        time.Now,
		entries:    make(map[string]*entry[V]),
		order:      newLRUList(),
	}

	if c.backend != nil {
		if err := c.load(context.Background()); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Get returns the value for key. Expired entries are evicted and reported
// as a miss. A hit updates the entry's last-access time and access counter.
func (c *TimedCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		posCacheMissesTotal.WithLabelValues(c.name).Inc()
		return zero, false
	}

	if e.expiredAt(c.now()) {
		c.removeLocked(key, "expired")
		if err := c.persistLocked(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist cache after expiry eviction")
		}
		posCacheMissesTotal.WithLabelValues(c.name).Inc()
		return zero, false
	}

	e.LastAccess = c.now()
	e.AccessCount++
	c.order.touch(key)

	posCacheHitsTotal.WithLabelValues(c.name).Inc()
	return e.Value, true
}

// Set stores a value under key with the given ttl. A non-positive ttl uses
// the configured default. When key is new and the cache is full, the entry
// with the oldest last-access time is evicted first.
func (c *TimedCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		if victim, ok := c.order.oldest(); ok {
			c.removeLocked(victim, "capacity")
			c.logger.Debug().Str("key", victim).Msg("Evicted least recently used entry")
		}
	}

	now := c.now()
	c.entries[key] = &entry[V]{
		Value:      value,
		CreatedAt:  now,
		TTL:        ttl,
		LastAccess: now,
	}
	c.order.touch(key)
	posCacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))

	return c.persistLocked(ctx)
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *TimedCache[V]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return nil
	}

	delete(c.entries, key)
	c.order.remove(key)
	posCacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))

	return c.persistLocked(ctx)
}

// Has reports whether key holds a live entry. Unlike Get it does not
// update the last-access time, the access counter or the eviction order.
func (c *TimedCache[V]) Has(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return !e.expiredAt(c.now())
}

// InvalidatePattern removes every key the matcher accepts and returns how
// many were removed. Used when a mutation stales a class of cached reads,
// for example all keys carrying an entity prefix.
func (c *TimedCache[V]) InvalidatePattern(ctx context.Context, match func(key string) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []string
	for key := range c.entries {
		if match(key) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		c.removeLocked(key, "invalidated")
	}

	if len(victims) == 0 {
		return 0, nil
	}

	c.logger.Debug().Int("count", len(victims)).Msg("Invalidated cached entries")
	return len(victims), c.persistLocked(ctx)
}

// Len returns the current number of entries, counting entries that have
// expired but not yet been evicted by a read.
func (c *TimedCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the bookkeeping of a live entry without touching it.
func (c *TimedCache[V]) Stats(key string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expiredAt(c.now()) {
		return Stats{}, false
	}
	return Stats{
		CreatedAt:   e.CreatedAt,
		LastAccess:  e.LastAccess,
		TTL:         e.TTL,
		AccessCount: e.AccessCount,
	}, true
}

// removeLocked drops an entry and records the eviction reason.
// Caller holds c.mu.
func (c *TimedCache[V]) removeLocked(key, reason string) {
	delete(c.entries, key)
	c.order.remove(key)
	posCacheEvictionsTotal.WithLabelValues(c.name, reason).Inc()
	posCacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
}

// persistLocked writes the full table to the backend. Volatile caches
// return nil. Last-access updates from reads are not persisted on their
// own; they reach the backend with the next mutation. Caller holds c.mu.
func (c *TimedCache[V]) persistLocked(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}

	data, err := json.Marshal(c.entries)
	if err != nil {
		posCacheErrorsTotal.WithLabelValues(c.name, "save").Inc()
		return fmt.Errorf("marshal cache %s: %w", c.name, err)
	}
	if err := c.backend.Save(ctx, data); err != nil {
		posCacheErrorsTotal.WithLabelValues(c.name, "save").Inc()
		return err
	}
	return nil
}

// load restores the table from the backend, pruning entries that expired
// while the process was down and rebuilding the access order from the
// persisted last-access times.
func (c *TimedCache[V]) load(ctx context.Context) error {
	data, err := c.backend.Load(ctx)
	if err != nil {
		posCacheErrorsTotal.WithLabelValues(c.name, "load").Inc()
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var persisted map[string]*entry[V]
	if err := json.Unmarshal(data, &persisted); err != nil {
		posCacheErrorsTotal.WithLabelValues(c.name, "load").Inc()
		return fmt.Errorf("unmarshal cache %s: %w", c.name, err)
	}

	now := c.now()
	pruned := 0
	live := make([]string, 0, len(persisted))
	for key, e := range persisted {
		if e.expiredAt(now) {
			pruned++
			continue
		}
		live = append(live, key)
	}

	// Rebuild access order oldest-first so the head ends up the most
	// recently accessed key.
	sort.Slice(live, func(i, j int) bool {
		return persisted[live[i]].LastAccess.Before(persisted[live[j]].LastAccess)
	})
	for _, key := range live {
		c.entries[key] = persisted[key]
		c.order.touch(key)
	}

	posCacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	c.logger.Info().
		Int("entries", len(c.entries)).
		Int("pruned", pruned).
		Msg("Cache restored from persistent storage")

	return nil
}
