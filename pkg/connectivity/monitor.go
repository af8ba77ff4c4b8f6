// Package connectivity tracks whether the backend is reachable.
//
// A Monitor combines two signals: a periodic probe (a cheap request against
// the backend) and direct reports from the transport when a call fails with
// a network error. Reports flip the state offline immediately; only a
// successful probe flips it back online. Components register for transitions
// with Subscribe, which the sync queue uses to drain the moment the backend
// returns.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
)

// DefaultProbeInterval is how often the monitor probes when unconfigured.
const DefaultProbeInterval = 30 * time.Second

var (
	// posConnectivityOnline is 1 while the backend is considered reachable
	posConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_connectivity_online",
			Help: "Whether the backend is currently considered reachable (1) or not (0)",
		},
	)

	// posConnectivityTransitionsTotal counts state changes
	posConnectivityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_connectivity_transitions_total",
			Help: "Total number of connectivity state transitions",
		},
		[]string{"state"}, // "online", "offline"
	)
)

// ProbeFunc reports whether the backend is reachable right now.
type ProbeFunc func(ctx context.Context) bool

// HTTPProbe returns a ProbeFunc that issues a HEAD request against url.
// Any HTTP response counts as reachable; only transport failures do not.
func HTTPProbe(url string, client *http.Client) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Config holds Monitor settings.
type Config struct {
	// Probe checks backend reachability. Required.
	Probe ProbeFunc

	// Interval between periodic probes. Defaults to DefaultProbeInterval.
	Interval time.Duration
}

// Monitor tracks the online/offline state. All methods are safe for
// concurrent use.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a Monitor. The initial state is online; the first
// probe corrects it if the backend is already unreachable.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Probe == nil {
		return nil, fmt.Errorf("probe is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}

	posConnectivityOnline.Set(1)
	return &Monitor{
		probe:    cfg.Probe,
		interval: cfg.Interval,
		logger:   logging.NewLogger("connectivity"),
		online:   true,
		subs:     make(map[int]func(bool)),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches periodic probing until ctx ends or Stop is called.
// The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.probeOnce(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probeOnce(ctx)
			}
		}
	}()
}

// Stop ends periodic probing. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ReportOffline flags the backend as unreachable immediately. Called by
// the transport's network-error hook so the state flips without waiting
// for the next probe.
func (m *Monitor) ReportOffline() {
	m.setState(false)
}

// Subscribe registers fn for state transitions and returns an unsubscribe
// func. fn is called with the new state, only on actual changes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	m.setState(m.probe(ctx))
}

// setState applies a transition. Repeated reports of the current state
// are no-ops so subscribers only see edges.
func (m *Monitor) setState(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		posConnectivityOnline.Set(1)
		posConnectivityTransitionsTotal.WithLabelValues("online").Inc()
		m.logger.Info().Msg("Backend reachable again")
	} else {
		posConnectivityOnline.Set(0)
		posConnectivityTransitionsTotal.WithLabelValues("offline").Inc()
		m.logger.Warn().Msg("Backend unreachable, entering offline mode")
	}

	for _, fn := range subs {
		fn(online)
	}
}
