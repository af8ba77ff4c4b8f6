// Package cache provides a TTL + LRU bounded cache for backend read results.
//
// Each TimedCache instance holds typed values with a per-entry TTL and a
// capacity bound. Expiry is checked on read; when an insert would exceed
// capacity the entry with the oldest last-access time is evicted, regardless
// of insertion order. Instances are either volatile (in-memory only) or
// durable (the whole table is written to a kvstore.Store on every mutation
// and reloaded on construction).
//
// # Basic Usage
//
//	products, err := cache.New[[]Product](cache.Config{
//		Name:       "products",
//		Capacity:   256,
//		DefaultTTL: 5 * time.Minute,
//	})
//	if err != nil {
//		return err
//	}
//
//	if v, ok := products.Get(ctx, "products:list"); ok {
//		return v, nil
//	}
//	// miss: fetch from the backend, then
//	_ = products.Set(ctx, "products:list", fetched, 0)
//
// # Durable Instances
//
//	backend := cache.NewKVBackend(kv, "products")
//	products, err := cache.New[[]Product](cache.Config{
//		Name:    "products",
//		Backend: backend,
//	})
//
// Durable caches require the value type to round-trip through encoding/json.
//
// # Metrics
//
// The package exports Prometheus metrics, labelled by cache name:
//
//   - pos_cache_hits_total{cache}
//   - pos_cache_misses_total{cache}
//   - pos_cache_evictions_total{cache,reason} - reason is "expired" or "capacity"
//   - pos_cache_entries{cache}
//   - pos_cache_errors_total{cache,operation}
package cache
