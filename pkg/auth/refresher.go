package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

// Prometheus metrics for credential refresh.
var (
	posTokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_token_refreshes_total",
		Help: "Total credential refresh attempts by outcome",
	}, []string{"outcome"})

	posTokenRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_token_refresh_duration_seconds",
		Help:    "Credential refresh duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// DefaultAuthTimeout bounds auth-sensitive calls (refresh, validation).
// Shorter than the general request timeout so login flows fail fast.
const DefaultAuthTimeout = 10 * time.Second

// RefresherConfig configures a TokenRefresher.
type RefresherConfig struct {
	// Store holds the credential being renewed. Required.
	Store *CredentialStore

	// BaseURL of the backend. Required.
	BaseURL string

	// RefreshPath is the token exchange endpoint. Defaults to
	// /auth/refresh.
	RefreshPath string

	// SessionPath is the session validation endpoint. Defaults to
	// /auth/session.
	SessionPath string

	// Timeout bounds each refresh or validation call. Defaults to
	// DefaultAuthTimeout.
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// TokenRefresher exchanges the stored credential for a fresh one. At
// most one renewal is in flight at any time; concurrent triggers share
// its outcome. It speaks to the backend with a plain HTTP client so a
// rejected credential cannot recurse into the retrying transport's own
// refresh path.
type TokenRefresher struct {
	store       *CredentialStore
	baseURL     string
	refreshPath string
	sessionPath string
	timeout     time.Duration
	httpClient  *http.Client
	group       singleflight.Group
	logger      zerolog.Logger
}

// NewTokenRefresher creates a refresher.
func NewTokenRefresher(cfg RefresherConfig) (*TokenRefresher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/auth/refresh"
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = "/auth/session"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAuthTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &TokenRefresher{
		store:       cfg.Store,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		refreshPath: cfg.RefreshPath,
		sessionPath: cfg.SessionPath,
		timeout:     cfg.Timeout,
		httpClient:  httpClient,
		logger:      logging.NewLogger("refresher"),
	}, nil
}

// refreshReply is the refresh endpoint's response: a new token, plus
// optionally a refreshed user profile.
type refreshReply struct {
	Token   string          `json:"token"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// Refresh renews the credential. Concurrent callers share one in-flight
// renewal and observe the identical outcome. Any failure clears the
// stored credential: a session whose token cannot be renewed is over.
func (r *TokenRefresher) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return nil, r.refresh(ctx)
	})
	return err
}

func (r *TokenRefresher) refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		posTokenRefreshDuration.Observe(time.Since(start).Seconds())
	}()

	// The renewal serves every waiter, not just the triggering caller:
	// detach from that caller's cancellation and bound by the auth
	// timeout instead.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	current, ok := r.store.Credentials()
	if !ok {
		posTokenRefreshesTotal.WithLabelValues("failure").Inc()
		return ErrNoCredential
	}

	reply, err := r.exchange(rctx, current.Token)
	if err == nil {
		err = r.store.Replace(rctx, reply.Token, reply.Profile)
	}
	if err != nil {
		posTokenRefreshesTotal.WithLabelValues("failure").Inc()
		r.logger.Warn().Err(err).Msg("Credential refresh failed")
		if cerr := r.store.Clear(rctx); cerr != nil {
			r.logger.Warn().Err(cerr).Msg("Failed to clear credential after refresh failure")
		}
		return fmt.Errorf("refresh credential: %w", err)
	}

	posTokenRefreshesTotal.WithLabelValues("success").Inc()
	r.logger.Info().Msg("Credential refreshed")
	return nil
}

// exchange posts the current token to the refresh endpoint.
func (r *TokenRefresher) exchange(ctx context.Context, token string) (*refreshReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+r.refreshPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &transport.Error{
			StatusCode: resp.StatusCode,
			Class:      transport.Classify(resp.StatusCode, nil),
			Message:    http.StatusText(resp.StatusCode),
			Time:       time.Now(),
		}
	}

	var reply refreshReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode refresh reply: %w", err)
	}
	if reply.Token == "" {
		return nil, fmt.Errorf("refresh reply missing token")
	}
	return &reply, nil
}

// Validate checks the stored credential against the session endpoint.
// Failures carry the transport taxonomy so Restore can tell a rejected
// credential from an unreachable backend.
func (r *TokenRefresher) Validate(ctx context.Context) error {
	current, ok := r.store.Credentials()
	if !ok {
		return ErrNoCredential
	}

	vctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(vctx, http.MethodGet, r.baseURL+r.sessionPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+current.Token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &transport.Error{
			Class:   transport.Classify(0, err),
			Message: "session validation failed",
			Time:    time.Now(),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &transport.Error{
			StatusCode: resp.StatusCode,
			Class:      transport.Classify(resp.StatusCode, nil),
			Message:    http.StatusText(resp.StatusCode),
			Time:       time.Now(),
		}
	}
	return nil
}
