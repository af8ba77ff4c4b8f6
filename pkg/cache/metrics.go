package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// posCacheHitsTotal tracks cache hits per cache instance
	posCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	// posCacheMissesTotal tracks cache misses per cache instance
	posCacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// posCacheEvictionsTotal tracks evictions by reason
	posCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_cache_evictions_total",
			Help: "Total number of cache evictions",
		},
		[]string{"cache", "reason"}, // "expired", "capacity", "invalidated"
	)

	// posCacheEntries tracks the current number of live entries
	posCacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_cache_entries",
			Help: "Current number of entries per cache",
		},
		[]string{"cache"},
	)

	// posCacheErrorsTotal tracks persistence failures
	posCacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_cache_errors_total",
			Help: "Total number of cache persistence errors",
		},
		[]string{"cache", "operation"}, // "save", "load"
	)
)
