// Package auth implements the credential lifecycle: a store with
// JWT-derived expiry, durable persistence and side-channel mirroring,
// single-flight token refresh, and the session countdown with forced
// logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/kvstore"
	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

// Common errors returned by the credential store.
var (
	// ErrNoCredential is returned when an operation needs a stored
	// credential and none is held.
	ErrNoCredential = errors.New("no credential stored")

	// ErrTokenExpired is returned when a supplied token is already past
	// its expiry.
	ErrTokenExpired = errors.New("token already expired")

	// ErrValidationDeferred reports that a restored credential could not
	// be validated because the backend was unreachable. It is kept
	// optimistically; the caller re-validates on the next online
	// transition.
	ErrValidationDeferred = errors.New("credential validation deferred")
)

// Prometheus metrics for credential operations.
var posCredentialOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pos_credential_operations_total",
	Help: "Total credential store operations by type",
}, []string{"operation"})

// Credentials is a snapshot of the held credential.
type Credentials struct {
	Token        string
	Role         string
	Profile      []byte
	ExpiresAt    time.Time
	SessionStart time.Time
}

// StoreConfig configures a CredentialStore.
type StoreConfig struct {
	// KV persists the credential across restarts. Required.
	KV kvstore.Store

	// Mirror receives credential copies for non-script consumers.
	// Optional.
	Mirror Mirror

	// SessionLifetime is the fixed session length, bounding both the
	// countdown and the mirrored credential's lifetime. Defaults to
	// DefaultSessionLifetime.
	SessionLifetime time.Duration
}

// CredentialStore owns the current credential. It is the only mutator:
// login (Set), refresh (Replace), extension (ResetSessionStart), and
// logout or expiry (Clear). Every mutation completes its persistence
// inside the store's critical section so no partially written state is
// observable.
type CredentialStore struct {
	kv              kvstore.Store
	mirror          Mirror
	sessionLifetime time.Duration
	logger          zerolog.Logger
	now             func() time.Time

	mu    sync.RWMutex
	creds *Credentials
}

// NewCredentialStore creates a credential store.
func NewCredentialStore(cfg StoreConfig) (*CredentialStore, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = DefaultSessionLifetime
	}

	return &CredentialStore{
		kv:              cfg.KV,
		mirror:          cfg.Mirror,
		sessionLifetime: cfg.SessionLifetime,
		logger:          logging.NewLogger("auth"),
		now:             time.Now,
	}, nil
}

// SessionLifetime returns the configured fixed session length.
func (s *CredentialStore) SessionLifetime() time.Duration {
	return s.sessionLifetime
}

// Set installs a freshly issued credential (login), persists it, and
// mirrors it. The session countdown starts from now. Already-expired
// tokens are rejected.
func (s *CredentialStore) Set(ctx context.Context, token string, profile []byte) error {
	claims, err := parseClaims(token)
	if err != nil {
		return err
	}

	now := s.now()
	if !claims.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired,
			claims.ExpiresAt.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(ctx, token, profile, now); err != nil {
		return err
	}
	s.creds = &Credentials{
		Token:        token,
		Role:         claims.Role,
		Profile:      profile,
		ExpiresAt:    claims.ExpiresAt,
		SessionStart: now,
	}
	s.mirrorSet(token, claims.Role, s.sessionLifetime)

	posCredentialOpsTotal.WithLabelValues("set").Inc()
	s.logger.Info().
		Time("expires_at", claims.ExpiresAt).
		Str("role", claims.Role).
		Msg("Credential stored")
	return nil
}

// Replace swaps the bearer token in place after a refresh, preserving
// the session start: a renewed token never extends the countdown. A new
// profile replaces the stored one when the refresh reply carried it.
func (s *CredentialStore) Replace(ctx context.Context, token string, profile []byte) error {
	claims, err := parseClaims(token)
	if err != nil {
		return err
	}

	now := s.now()
	if !claims.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired,
			claims.ExpiresAt.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		return ErrNoCredential
	}
	if profile == nil {
		profile = s.creds.Profile
	}
	start := s.creds.SessionStart

	if err := s.persist(ctx, token, profile, start); err != nil {
		return err
	}
	s.creds.Token = token
	s.creds.Role = claims.Role
	s.creds.Profile = profile
	s.creds.ExpiresAt = claims.ExpiresAt

	remaining := start.Add(s.sessionLifetime).Sub(now)
	if remaining > 0 {
		s.mirrorSet(token, claims.Role, remaining)
	}

	posCredentialOpsTotal.WithLabelValues("replace").Inc()
	s.logger.Info().
		Time("expires_at", claims.ExpiresAt).
		Msg("Credential replaced after refresh")
	return nil
}

// Token returns the bearer token for request attachment. It reports
// false when no credential is held or the held one has expired; an
// expired credential is never attached to a request.
func (s *CredentialStore) Token(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil || !s.creds.ExpiresAt.After(s.now()) {
		return "", false
	}
	return s.creds.Token, true
}

// Credentials returns a snapshot of the held credential, even an expired
// one; Token is the expiry-enforcing accessor. The refresher needs the
// old token after its expiry to exchange it.
func (s *CredentialStore) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	snapshot := *s.creds
	snapshot.Profile = append([]byte(nil), s.creds.Profile...)
	return snapshot, true
}

// Clear removes the credential everywhere: memory, durable storage, and
// the mirror. Used by logout, refresh failure, and session expiry.
func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil

	var firstErr error
	for _, key := range []string{
		kvstore.KeyCredentialToken,
		kvstore.KeyCredentialProfile,
		kvstore.KeySessionStart,
	} {
		if err := s.kv.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Clear(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to clear credential mirror")
		}
	}

	posCredentialOpsTotal.WithLabelValues("clear").Inc()
	s.logger.Info().Msg("Credential cleared")
	return firstErr
}

// ResetSessionStart restarts the session countdown from now and
// re-persists the new start. Called by SessionTimer.Extend.
func (s *CredentialStore) ResetSessionStart(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		return time.Time{}, ErrNoCredential
	}

	now := s.now()
	if err := s.kv.Set(ctx, kvstore.KeySessionStart, encodeTime(now)); err != nil {
		return time.Time{}, fmt.Errorf("persist session start: %w", err)
	}
	s.creds.SessionStart = now
	s.mirrorSet(s.creds.Token, s.creds.Role, s.sessionLifetime)

	return now, nil
}

// ValidatorFunc checks a restored credential against the backend, e.g.
// TokenRefresher.Validate. Failures must carry the transport taxonomy so
// Restore can tell a rejected credential from an unreachable backend.
type ValidatorFunc func(ctx context.Context) error

// Restore loads the persisted credential, if any, and re-validates it.
// Outcomes: no persisted state or an expired one leaves the store empty
// and returns nil; a validator auth rejection discards the state and
// returns nil; an unreachable backend keeps the state optimistically and
// returns ErrValidationDeferred.
func (s *CredentialStore) Restore(ctx context.Context, validate ValidatorFunc) error {
	tokenBytes, err := s.kv.Get(ctx, kvstore.KeyCredentialToken)
	if errors.Is(err, kvstore.ErrNotFound) {
		s.logger.Debug().Msg("No persisted credential to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	token := string(tokenBytes)

	claims, err := parseClaims(token)
	if err != nil || !claims.ExpiresAt.After(s.now()) {
		s.logger.Info().Msg("Persisted credential expired, discarding")
		posCredentialOpsTotal.WithLabelValues("restore_discarded").Inc()
		return s.Clear(ctx)
	}

	profile, err := s.kv.Get(ctx, kvstore.KeyCredentialProfile)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("load profile: %w", err)
	}

	start := s.now()
	if raw, err := s.kv.Get(ctx, kvstore.KeySessionStart); err == nil {
		if parsed, perr := decodeTime(raw); perr == nil {
			start = parsed
		}
	}

	s.mu.Lock()
	s.creds = &Credentials{
		Token:        token,
		Role:         claims.Role,
		Profile:      profile,
		ExpiresAt:    claims.ExpiresAt,
		SessionStart: start,
	}
	remaining := start.Add(s.sessionLifetime).Sub(s.now())
	if remaining > 0 {
		s.mirrorSet(token, claims.Role, remaining)
	}
	s.mu.Unlock()

	if validate == nil {
		posCredentialOpsTotal.WithLabelValues("restore").Inc()
		s.logger.Info().Time("expires_at", claims.ExpiresAt).Msg("Credential restored")
		return nil
	}

	if verr := validate(ctx); verr != nil {
		if transport.ClassOf(verr) == transport.ErrorClassAuth {
			s.logger.Warn().Err(verr).Msg("Restored credential rejected by backend, discarding")
			posCredentialOpsTotal.WithLabelValues("restore_discarded").Inc()
			return s.Clear(ctx)
		}
		s.logger.Warn().Err(verr).Msg("Could not validate restored credential, keeping optimistically")
		posCredentialOpsTotal.WithLabelValues("restore_deferred").Inc()
		return ErrValidationDeferred
	}

	posCredentialOpsTotal.WithLabelValues("restore").Inc()
	s.logger.Info().Time("expires_at", claims.ExpiresAt).Msg("Credential restored and validated")
	return nil
}

// persist writes the three credential keys. Caller holds s.mu.
func (s *CredentialStore) persist(ctx context.Context, token string, profile []byte, start time.Time) error {
	if err := s.kv.Set(ctx, kvstore.KeyCredentialToken, []byte(token)); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeyCredentialProfile, profile); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeySessionStart, encodeTime(start)); err != nil {
		return fmt.Errorf("persist session start: %w", err)
	}
	return nil
}

// mirrorSet forwards to the mirror when configured. Mirror failures are
// logged, never propagated.
func (s *CredentialStore) mirrorSet(token, role string, ttl time.Duration) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Set(token, role, ttl); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to mirror credential")
	}
}

func encodeTime(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

func decodeTime(raw []byte) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, string(raw))
}
