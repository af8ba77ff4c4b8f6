// Package transport provides the retrying HTTP transport that carries all
// backend traffic for the resilience layer: credential attachment, error
// classification, bounded exponential backoff with jitter, and a one-shot
// credential refresh when the backend rejects the bearer token.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
)

// Prometheus metrics for transport operations.
var (
	posRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_requests_total",
		Help: "Total backend requests by endpoint and status",
	}, []string{"endpoint", "status"})

	posRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_request_duration_seconds",
		Help:    "Backend request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	posErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})
)

// CredentialSource supplies the bearer token attached to outgoing requests.
// Implementations report false when no valid credential is held; the
// request then goes out unauthenticated.
type CredentialSource interface {
	Token(ctx context.Context) (string, bool)
}

// Refresher renews the stored credential after the backend rejects it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Response is a backend reply with its body fully read. Reading the body
// eagerly keeps retries and caching free of stream replay concerns.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Config holds the transport configuration.
type Config struct {
	// BaseURL of the backend, e.g. "https://pos.example.com/api".
	BaseURL string

	// Credentials supplies bearer tokens. Optional.
	Credentials CredentialSource

	// Refresher renews credentials after an auth rejection. Optional;
	// without it auth errors propagate immediately.
	Refresher Refresher

	// UserAgent header for outgoing requests.
	UserAgent string

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration

	// Retry controls the backoff loop. A zero value disables retries;
	// see DefaultRetryConfig.
	Retry RetryConfig

	// OnNetworkError is invoked for every network-class failure so the
	// connectivity monitor learns about outages without waiting for the
	// next probe. Optional.
	OnNetworkError func()

	// OnAuthFailure is invoked when an auth error is about to propagate
	// to the caller, i.e. the refresh failed or was not configured.
	// Optional.
	OnAuthFailure func()

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 15 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Transport is the retrying HTTP transport.
type Transport struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a transport.
func New(cfg Config) (*Transport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Transport{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger("transport"),
	}, nil
}

// Do performs method path against the backend. payload may be nil; it is
// replayed from memory on every attempt. This is the core request method
// that orchestrates classification, refresh, and retry.
func (t *Transport) Do(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	endpoint := metricEndpoint(path)

	startTime := time.Now()
	defer func() {
		posRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var lastErr *Error
	refreshed := false
	attempt := 0

	for {
		// Step 1: Build a fresh request. The credential is re-read on
		// every attempt so a refresh mid-loop takes effect.
		req, err := t.newRequest(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}

		resp, err := t.send(req)

		switch {
		case err != nil:
			// Step 2: Transport-level failure (no response)
			class := Classify(0, err)
			posErrorsTotal.WithLabelValues(string(class)).Inc()
			posRequestsTotal.WithLabelValues(endpoint, string(class)+"_error").Inc()
			t.logger.Error().
				Err(err).
				Str("endpoint", endpoint).
				Str("error_class", string(class)).
				Msg("HTTP request failed")
			if class == ErrorClassNetwork && t.config.OnNetworkError != nil {
				t.config.OnNetworkError()
			}
			lastErr = newError(0, class, "request failed", err)

		case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
			// Step 3: Auth rejection. Refresh once, then retry the
			// original call exactly once; a second rejection propagates.
			posErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
			posRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.Status)).Inc()

			if !refreshed && t.config.Refresher != nil {
				refreshed = true
				t.logger.Info().
					Str("endpoint", endpoint).
					Int("status", resp.Status).
					Msg("Auth rejected, refreshing credential")
				if rerr := t.config.Refresher.Refresh(ctx); rerr == nil {
					continue
				} else {
					t.logger.Warn().Err(rerr).Msg("Credential refresh failed")
				}
			}

			if t.config.OnAuthFailure != nil {
				t.config.OnAuthFailure()
			}
			authErr := newError(resp.Status, ErrorClassAuth, http.StatusText(resp.Status), nil)
			authErr.Body = resp.Body
			return nil, authErr

		case resp.Status >= 400:
			// Step 4: HTTP error status
			class := Classify(resp.Status, nil)
			posErrorsTotal.WithLabelValues(string(class)).Inc()
			posRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.Status)).Inc()
			t.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.Status).
				Str("error_class", string(class)).
				Msg("Backend request error")

			herr := newError(resp.Status, class, http.StatusText(resp.Status), nil)
			if !retryable(class) {
				// Validation and client errors fail identically on
				// retry; keep the body for the caller.
				herr.Body = resp.Body
				return nil, herr
			}
			lastErr = herr

		default:
			// Step 5: Success
			posRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.Status)).Inc()
			if attempt > 0 {
				t.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		// Step 6: Bounded backoff before the next attempt
		if attempt >= t.config.Retry.MaxRetries {
			break
		}
		delay := t.config.Retry.backoff(attempt)
		attempt++

		posRetriesTotal.WithLabelValues(string(lastErr.Class)).Inc()
		posRetryBackoffSeconds.WithLabelValues(string(lastErr.Class)).Observe(delay.Seconds())
		t.logger.Debug().
			Str("endpoint", endpoint).
			Str("error_class", string(lastErr.Class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			t.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}

	// All retries exhausted
	posRetryExhaustedTotal.WithLabelValues(string(lastErr.Class)).Inc()
	t.logger.Warn().
		Str("endpoint", endpoint).
		Str("error_class", string(lastErr.Class)).
		Int("max_retries", t.config.Retry.MaxRetries).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %w",
		ErrRetryExhausted, t.config.Retry.MaxRetries+1, lastErr)
}

// Get performs a GET request against path.
func (t *Transport) Get(ctx context.Context, path string) (*Response, error) {
	return t.Do(ctx, http.MethodGet, path, nil)
}

// newRequest builds one attempt's request.
func (t *Transport) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	if t.config.Credentials != nil {
		if token, ok := t.config.Credentials.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// send executes a single attempt and drains the body.
func (t *Transport) send(req *http.Request) (*Response, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
	}, nil
}

// metricEndpoint strips the query string so label cardinality stays
// bounded by the route surface.
func metricEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
