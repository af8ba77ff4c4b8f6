package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// posCoordRequestsTotal tracks read requests by how they resolved
	posCoordRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_coordinator_requests_total",
			Help: "Total number of coordinated reads by outcome",
		},
		[]string{"outcome"}, // "cache_hit", "fetch", "shared"
	)

	// posCoordQueueDepth tracks queued fetches per priority tier
	posCoordQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_coordinator_queue_depth",
			Help: "Current number of queued fetches per priority tier",
		},
		[]string{"priority"},
	)

	// posCoordQueueWaitSeconds tracks how long fetches waited for a worker
	posCoordQueueWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_coordinator_queue_wait_seconds",
			Help:    "Time fetches spent queued before a worker picked them up",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"priority"},
	)

	// posCoordMutationsTotal tracks mutations by how they resolved
	posCoordMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_coordinator_mutations_total",
			Help: "Total number of mutations by outcome",
		},
		[]string{"outcome"}, // "direct", "queued_offline", "queued_network", "queued_ordering", "failed"
	)

	// posCoordBatchesTotal counts dispatched batches
	posCoordBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_coordinator_batches_total",
			Help: "Total number of dispatched request batches",
		},
	)

	// posCoordBatchSize tracks how many requests each batch coalesced
	posCoordBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pos_coordinator_batch_size",
			Help:    "Number of requests coalesced per dispatched batch",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)
)
