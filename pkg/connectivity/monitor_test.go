package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, probe ProbeFunc) *Monitor {
	t.Helper()

	m, err := NewMonitor(Config{Probe: probe, Interval: time.Hour})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	return m
}

func TestNewMonitor_RequiresProbe(t *testing.T) {
	if _, err := NewMonitor(Config{}); err == nil {
		t.Error("Expected error for missing probe")
	}
}

func TestInitialStateOnline(t *testing.T) {
	m := newTestMonitor(t, func(ctx context.Context) bool { return true })

	if !m.Online() {
		t.Error("Expected initial state to be online")
	}
}

func TestReportOfflineFlipsImmediately(t *testing.T) {
	m := newTestMonitor(t, func(ctx context.Context) bool { return true })

	m.ReportOffline()
	if m.Online() {
		t.Error("Expected offline after ReportOffline")
	}
}

func TestProbeRestoresOnline(t *testing.T) {
	m := newTestMonitor(t, func(ctx context.Context) bool { return true })

	m.ReportOffline()
	m.probeOnce(context.Background())

	if !m.Online() {
		t.Error("Expected online after successful probe")
	}
}

func TestSubscribeSeesTransitionsOnly(t *testing.T) {
	m := newTestMonitor(t, func(ctx context.Context) bool { return true })

	var mu sync.Mutex
	var events []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, online)
	})

	m.ReportOffline()
	m.ReportOffline() // repeated report, no edge
	m.probeOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := []bool{false, true}
	if len(events) != len(want) {
		t.Fatalf("Got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	m := newTestMonitor(t, func(ctx context.Context) bool { return true })

	var mu sync.Mutex
	count := 0
	unsubscribe := m.Subscribe(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	m.ReportOffline()
	unsubscribe()
	m.probeOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("Got %d events after unsubscribe, want 1", count)
	}
}

func TestHTTPProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	probe := HTTPProbe(server.URL, server.Client())
	if !probe(context.Background()) {
		t.Error("Expected any HTTP response to count as reachable")
	}

	server.Close()
	if probe(context.Background()) {
		t.Error("Expected transport failure to count as unreachable")
	}
}

func TestStartProbesPeriodically(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	probe := func(ctx context.Context) bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return true
	}

	m, err := NewMonitor(Config{Probe: probe, Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Got %d probe calls before deadline, want at least 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
