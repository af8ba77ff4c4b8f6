package transport

import (
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	posRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	posRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	posRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// backoff returns the wait before retry number attempt (0-based):
// InitialBackoff * 2^attempt, capped at MaxBackoff, with ±25% jitter to
// prevent thundering herd.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialBackoff) * math.Pow(2, float64(attempt)))
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}
