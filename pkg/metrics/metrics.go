// Package metrics provides the centralized Prometheus metrics registry for
// the POS client. All metrics are defined in their respective packages
// (transport, auth, cache, connectivity, syncqueue, coordinator) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the POS client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - pos_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - pos_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - pos_errors_total{class} (Counter): Errors by class (network, timeout, auth, rate_limited, server, validation, client)
//
// Retry Metrics (pkg/transport):
//   - pos_retries_total{error_class} (Counter): Retry attempts by error class
//   - pos_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pos_retry_exhausted_total{error_class} (Counter): Requests that exhausted the retry budget
//
// Credential Metrics (pkg/auth):
//   - pos_credential_operations_total{operation} (Counter): Store operations (set, replace, clear, restore, restore_deferred, restore_discarded)
//   - pos_token_refreshes_total{outcome} (Counter): Token refresh attempts (success, failure)
//   - pos_session_remaining_seconds (Gauge): Seconds until the current session expires
//   - pos_session_warnings_total (Counter): Expiry warnings fired
//   - pos_session_expiries_total (Counter): Sessions that reached expiry
//   - pos_session_extensions_total (Counter): Session extensions granted
//
// Cache Metrics (pkg/cache):
//   - pos_cache_hits_total{cache} (Counter): Cache hits by instance
//   - pos_cache_misses_total{cache} (Counter): Cache misses by instance
//   - pos_cache_evictions_total{cache, reason} (Counter): Evictions (expired, capacity, invalidated)
//   - pos_cache_entries{cache} (Gauge): Live entries by instance
//   - pos_cache_errors_total{cache, operation} (Counter): Persistence errors (save, load)
//
// Connectivity Metrics (pkg/connectivity):
//   - pos_connectivity_online (Gauge): 1 while the backend is reachable, 0 while offline
//   - pos_connectivity_transitions_total{state} (Counter): State transitions (online, offline)
//
// Sync Queue Metrics (pkg/syncqueue):
//   - pos_sync_queue_depth (Gauge): Queued offline mutations awaiting replay
//   - pos_sync_enqueued_total{kind} (Counter): Mutations queued by kind (create, update, delete)
//   - pos_sync_replays_total{outcome} (Counter): Replay attempts (success, retry, abandoned)
//
// Coordinator Metrics (pkg/coordinator):
//   - pos_coordinator_requests_total{outcome} (Counter): Read resolution (cache_hit, fetch, shared)
//   - pos_coordinator_queue_depth{priority} (Gauge): Fetches waiting per priority tier
//   - pos_coordinator_queue_wait_seconds{priority} (Histogram): Queue wait before a worker picks a fetch up
//   - pos_coordinator_mutations_total{outcome} (Counter): Write routing (direct, queued_offline, queued_network, queued_ordering, failed)
//   - pos_coordinator_batches_total (Counter): Coalesced batches dispatched
//   - pos_coordinator_batch_size (Histogram): Requests coalesced per batch
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pos_cache_hits_total[5m])) /
//   (sum(rate(pos_cache_hits_total[5m])) + sum(rate(pos_cache_misses_total[5m])))
//
//   # Offline Backlog
//   pos_sync_queue_depth > 0
//
//   # Request Error Rate
//   rate(pos_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(pos_request_duration_seconds_bucket[5m]))
//
//   # Share of Reads Served Without a Network Round Trip
//   rate(pos_coordinator_requests_total{outcome="cache_hit"}[5m]) /
//   sum(rate(pos_coordinator_requests_total[5m]))
