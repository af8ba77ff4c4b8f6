package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
)

// Session countdown defaults.
const (
	// DefaultSessionLifetime covers a full retail shift.
	DefaultSessionLifetime = 8 * time.Hour

	// DefaultWarningWindow is how long before expiry the warning state
	// begins.
	DefaultWarningWindow = 5 * time.Minute

	// DefaultCheckInterval is the countdown recompute granularity.
	// Sub-second precision is not required.
	DefaultCheckInterval = time.Minute
)

// Prometheus metrics for the session countdown.
var (
	posSessionRemainingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_session_remaining_seconds",
		Help: "Seconds until the current session expires",
	})

	posSessionWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_session_warnings_total",
		Help: "Total number of session warning transitions",
	})

	posSessionExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_session_expiries_total",
		Help: "Total number of forced logouts at session expiry",
	})

	posSessionExtensionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_session_extensions_total",
		Help: "Total number of session extensions",
	})
)

// SessionState describes where the countdown stands.
type SessionState string

const (
	// SessionActive means plenty of time remains.
	SessionActive SessionState = "active"

	// SessionWarning means expiry is inside the warning window.
	SessionWarning SessionState = "warning"

	// SessionExpired means the session is over, or none exists.
	SessionExpired SessionState = "expired"
)

// TimerConfig configures a SessionTimer. The session lifetime itself
// comes from the store so the countdown and the mirrored credential
// always agree.
type TimerConfig struct {
	// Store owns the session start this timer counts from. Required.
	Store *CredentialStore

	// WarningWindow before expiry. Defaults to DefaultWarningWindow.
	WarningWindow time.Duration

	// CheckInterval between recomputes. Defaults to
	// DefaultCheckInterval.
	CheckInterval time.Duration
}

// SessionTimer counts a session down from its start to the fixed
// lifetime, independent of token renewals. It recomputes coarsely on a
// ticker, raises a warning state inside the configured window, and
// forces logout at zero. Extend is the only way to cancel an impending
// expiry.
type SessionTimer struct {
	store         *CredentialStore
	lifetime      time.Duration
	warningWindow time.Duration
	checkInterval time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	mu         sync.Mutex
	state      SessionState
	warnSubs   map[int]func(time.Duration)
	expireSubs map[int]func()
	nextSubID  int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessionTimer creates a session timer over store.
func NewSessionTimer(cfg TimerConfig) (*SessionTimer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = DefaultWarningWindow
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	return &SessionTimer{
		store:         cfg.Store,
		lifetime:      cfg.Store.SessionLifetime(),
		warningWindow: cfg.WarningWindow,
		checkInterval: cfg.CheckInterval,
		logger:        logging.NewLogger("session-timer"),
		now:           time.Now,
		state:         SessionActive,
		warnSubs:      map[int]func(time.Duration){},
		expireSubs:    map[int]func(){},
		stopCh:        make(chan struct{}),
	}, nil
}

// Start launches the periodic countdown evaluation. It returns
// immediately; cancel ctx or call Stop to halt.
func (t *SessionTimer) Start(ctx context.Context) {
	go func() {
		// Evaluate once up front so a restored, already-over session is
		// cleared at startup rather than a tick later.
		t.evaluate(ctx)

		ticker := time.NewTicker(t.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.evaluate(ctx)
			}
		}
	}()
}

// Stop halts the periodic evaluation.
func (t *SessionTimer) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// State returns the current countdown state.
func (t *SessionTimer) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns the time left in the current session, zero when
// none is active.
func (t *SessionTimer) Remaining() time.Duration {
	creds, ok := t.store.Credentials()
	if !ok {
		return 0
	}
	remaining := creds.SessionStart.Add(t.lifetime).Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Extend restarts the countdown from now and re-persists the session
// start. Token renewal never extends the session; this does.
func (t *SessionTimer) Extend(ctx context.Context) error {
	if _, err := t.store.ResetSessionStart(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	t.state = SessionActive
	t.mu.Unlock()

	posSessionExtensionsTotal.Inc()
	t.logger.Info().Dur("lifetime", t.lifetime).Msg("Session extended")
	return nil
}

// OnWarning registers fn to receive the remaining time on every
// evaluation inside the warning window, keeping countdown displays
// current. The returned func unsubscribes it.
func (t *SessionTimer) OnWarning(fn func(remaining time.Duration)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.warnSubs[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.warnSubs, id)
	}
}

// OnExpired registers fn to run when the session expires. The returned
// func unsubscribes it.
func (t *SessionTimer) OnExpired(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.expireSubs[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.expireSubs, id)
	}
}

// evaluate recomputes the countdown and drives state transitions.
func (t *SessionTimer) evaluate(ctx context.Context) {
	creds, ok := t.store.Credentials()
	if !ok {
		// Nothing to count down; no events fire for a session that
		// never existed.
		t.mu.Lock()
		t.state = SessionExpired
		t.mu.Unlock()
		posSessionRemainingSeconds.Set(0)
		return
	}

	remaining := creds.SessionStart.Add(t.lifetime).Sub(t.now())
	if remaining < 0 {
		remaining = 0
	}
	posSessionRemainingSeconds.Set(remaining.Seconds())

	switch {
	case remaining <= 0:
		t.expire(ctx)
	case remaining <= t.warningWindow:
		t.warn(remaining)
	default:
		t.mu.Lock()
		t.state = SessionActive
		t.mu.Unlock()
	}
}

func (t *SessionTimer) warn(remaining time.Duration) {
	t.mu.Lock()
	entering := t.state != SessionWarning
	t.state = SessionWarning
	subs := make([]func(time.Duration), 0, len(t.warnSubs))
	for _, fn := range t.warnSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	if entering {
		posSessionWarningsTotal.Inc()
		t.logger.Warn().Dur("remaining", remaining).Msg("Session expiry warning")
	}
	for _, fn := range subs {
		fn(remaining)
	}
}

func (t *SessionTimer) expire(ctx context.Context) {
	t.mu.Lock()
	if t.state == SessionExpired {
		t.mu.Unlock()
		return
	}
	t.state = SessionExpired
	subs := make([]func(), 0, len(t.expireSubs))
	for _, fn := range t.expireSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	posSessionExpiriesTotal.Inc()
	t.logger.Warn().Msg("Session expired, forcing logout")

	if err := t.store.Clear(ctx); err != nil {
		t.logger.Error().Err(err).Msg("Failed to clear credential at session expiry")
	}
	for _, fn := range subs {
		fn()
	}
}
