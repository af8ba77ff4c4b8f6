package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dickson-Hardy/pos-client-go/pkg/auth"
	"github.com/Dickson-Hardy/pos-client-go/pkg/coordinator"
	"github.com/Dickson-Hardy/pos-client-go/pkg/syncqueue"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

type fakeCoord struct {
	getData []byte
	getErr  error
	gotPath string
	gotPrio coordinator.Priority
	gotTTL  time.Duration

	mutateRes coordinator.MutateResult
	mutateErr error
	gotMut    coordinator.Mutation
}

func (f *fakeCoord) Get(ctx context.Context, path string, priority coordinator.Priority, ttl time.Duration) ([]byte, error) {
	f.gotPath = path
	f.gotPrio = priority
	f.gotTTL = ttl
	return f.getData, f.getErr
}

func (f *fakeCoord) Mutate(ctx context.Context, m coordinator.Mutation) (coordinator.MutateResult, error) {
	f.gotMut = m
	return f.mutateRes, f.mutateErr
}

type fakeStore struct {
	creds    auth.Credentials
	ok       bool
	setErr   error
	setToken string
	cleared  bool
}

func (f *fakeStore) Credentials() (auth.Credentials, bool) { return f.creds, f.ok }

func (f *fakeStore) Set(ctx context.Context, token string, profile []byte) error {
	f.setToken = token
	return f.setErr
}

func (f *fakeStore) Clear(ctx context.Context) error {
	f.cleared = true
	return nil
}

type fakeTimer struct {
	state     auth.SessionState
	remaining time.Duration
	extendErr error
	extended  bool
}

func (f *fakeTimer) State() auth.SessionState  { return f.state }
func (f *fakeTimer) Remaining() time.Duration  { return f.remaining }
func (f *fakeTimer) Extend(context.Context) error {
	f.extended = true
	return f.extendErr
}

type fakeOnline bool

func (f fakeOnline) Online() bool { return bool(f) }

type fakeDepth int

func (f fakeDepth) Len() int { return int(f) }

type testAgent struct {
	coord   *fakeCoord
	store   *fakeStore
	timer   *fakeTimer
	mirror  *cookieMirror
	handler http.Handler
}

func newTestAgent() *testAgent {
	coord := &fakeCoord{getData: []byte(`{}`)}
	store := &fakeStore{}
	timer := &fakeTimer{state: auth.SessionActive}
	mirror := newCookieMirror()

	deps := agentDeps{
		coord:      coord,
		store:      store,
		timer:      timer,
		monitor:    fakeOnline(true),
		queue:      fakeDepth(0),
		defaultTTL: 5 * time.Minute,
	}

	return &testAgent{
		coord:   coord,
		store:   store,
		timer:   timer,
		mirror:  mirror,
		handler: newAgentHandler(deps, mirror),
	}
}

func (a *testAgent) do(method, target string, body string) *http.Response {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w.Result()
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return m
}

func TestProxyGet(t *testing.T) {
	agent := newTestAgent()
	agent.coord.getData = []byte(`[{"sku":"A1"}]`)

	req := httptest.NewRequest("GET", "/proxy/products?limit=2", nil)
	req.Header.Set("X-Priority", "high")
	w := httptest.NewRecorder()
	agent.handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `[{"sku":"A1"}]` {
		t.Errorf("Body = %s, want coordinator data", body)
	}

	if agent.coord.gotPath != "/products?limit=2" {
		t.Errorf("Path = %q, want /products?limit=2", agent.coord.gotPath)
	}
	if agent.coord.gotPrio != coordinator.PriorityHigh {
		t.Errorf("Priority = %v, want high", agent.coord.gotPrio)
	}
	if agent.coord.gotTTL != 5*time.Minute {
		t.Errorf("TTL = %v, want default 5m", agent.coord.gotTTL)
	}
}

func TestProxyGet_DefaultsToMediumPriority(t *testing.T) {
	agent := newTestAgent()

	resp := agent.do("GET", "/proxy/products", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if agent.coord.gotPrio != coordinator.PriorityMedium {
		t.Errorf("Priority = %v, want medium", agent.coord.gotPrio)
	}
}

func TestProxyGet_InvalidPriority(t *testing.T) {
	agent := newTestAgent()

	req := httptest.NewRequest("GET", "/proxy/products", nil)
	req.Header.Set("X-Priority", "urgent")
	w := httptest.NewRecorder()
	agent.handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
	}
}

func TestProxyGet_CacheTTLHeader(t *testing.T) {
	agent := newTestAgent()

	req := httptest.NewRequest("GET", "/proxy/reports/daily", nil)
	req.Header.Set("X-Cache-TTL", "2m")
	w := httptest.NewRecorder()
	agent.handler.ServeHTTP(w, req)

	if agent.coord.gotTTL != 2*time.Minute {
		t.Errorf("TTL = %v, want 2m", agent.coord.gotTTL)
	}
}

func TestProxyGet_MissingPath(t *testing.T) {
	agent := newTestAgent()

	resp := agent.do("GET", "/proxy/", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestProxyGet_BackendStatusPassesThrough(t *testing.T) {
	agent := newTestAgent()
	agent.coord.getErr = &transport.Error{
		StatusCode: 404,
		Class:      transport.ErrorClassValidation,
		Message:    "no such product",
	}

	resp := agent.do("GET", "/proxy/products/999", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["class"] != "validation" {
		t.Errorf("class = %v, want validation", body["class"])
	}
}

func TestProxyGet_NetworkErrorIsBadGateway(t *testing.T) {
	agent := newTestAgent()
	agent.coord.getErr = &transport.Error{
		Class:   transport.ErrorClassNetwork,
		Message: "connection refused",
	}

	resp := agent.do("GET", "/proxy/products", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", resp.StatusCode)
	}
}

func TestProxyGet_TimeoutIsGatewayTimeout(t *testing.T) {
	agent := newTestAgent()
	agent.coord.getErr = &transport.Error{
		Class:   transport.ErrorClassTimeout,
		Message: "deadline exceeded",
	}

	resp := agent.do("GET", "/proxy/products", "")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d", resp.StatusCode)
	}
}

func TestProxyMutate_Direct(t *testing.T) {
	agent := newTestAgent()
	agent.coord.mutateRes = coordinator.MutateResult{
		Response: &transport.Response{Status: http.StatusCreated, Body: []byte(`{"id":"s1"}`)},
	}

	resp := agent.do("POST", "/proxy/sales", `{"total":5}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"id":"s1"}` {
		t.Errorf("Body = %s, want backend response", body)
	}

	m := agent.coord.gotMut
	if m.Kind != syncqueue.KindCreate || m.Entity != "sales" || m.Path != "/sales" {
		t.Errorf("Mutation = %+v, want create sales /sales", m)
	}
	if string(m.Payload) != `{"total":5}` {
		t.Errorf("Payload = %s, want original body", m.Payload)
	}
}

func TestProxyMutate_Queued(t *testing.T) {
	agent := newTestAgent()
	agent.coord.mutateRes = coordinator.MutateResult{
		Queued:    true,
		Operation: syncqueue.Operation{ID: "op-1"},
	}

	resp := agent.do("POST", "/proxy/sales", `{"total":9}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["queued"] != true || body["operation_id"] != "op-1" {
		t.Errorf("Body = %v, want queued op-1", body)
	}
}

func TestProxyMutate_DeleteKind(t *testing.T) {
	agent := newTestAgent()
	agent.coord.mutateRes = coordinator.MutateResult{
		Response: &transport.Response{Status: http.StatusOK, Body: []byte(`{}`)},
	}

	resp := agent.do("DELETE", "/proxy/products/42", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	m := agent.coord.gotMut
	if m.Kind != syncqueue.KindDelete || m.Entity != "products" || m.Path != "/products/42" {
		t.Errorf("Mutation = %+v, want delete products /products/42", m)
	}
}

func TestEntityOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/sales/42", "sales"},
		{"/sales", "sales"},
		{"/products?fields=price", "products"},
		{"/reports/daily/summary", "reports"},
		{"/", ""},
	}

	for _, tt := range tests {
		if got := entityOf(tt.path); got != tt.want {
			t.Errorf("entityOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSessionGet(t *testing.T) {
	agent := newTestAgent()
	agent.store.ok = true
	agent.store.creds = auth.Credentials{Role: "manager"}
	agent.timer.state = auth.SessionWarning
	agent.timer.remaining = 4 * time.Minute

	resp := agent.do("GET", "/session", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["active"] != true || body["state"] != "warning" || body["role"] != "manager" {
		t.Errorf("Body = %v", body)
	}
	if body["remaining_seconds"] != float64(240) {
		t.Errorf("remaining_seconds = %v, want 240", body["remaining_seconds"])
	}
}

func TestSessionLogin(t *testing.T) {
	agent := newTestAgent()

	resp := agent.do("POST", "/session/login", `{"token":"tok-1","profile":{"name":"Dana"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if agent.store.setToken != "tok-1" {
		t.Errorf("Stored token = %q, want tok-1", agent.store.setToken)
	}
}

func TestSessionLogin_MissingToken(t *testing.T) {
	agent := newTestAgent()

	resp := agent.do("POST", "/session/login", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestSessionLogin_ExpiredToken(t *testing.T) {
	agent := newTestAgent()
	agent.store.setErr = auth.ErrTokenExpired

	resp := agent.do("POST", "/session/login", `{"token":"stale"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestSessionLogout(t *testing.T) {
	agent := newTestAgent()

	resp := agent.do("POST", "/session/logout", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", resp.StatusCode)
	}
	if !agent.store.cleared {
		t.Error("Expected store to be cleared")
	}
}

func TestSessionExtend(t *testing.T) {
	agent := newTestAgent()
	agent.timer.remaining = 8 * time.Hour

	resp := agent.do("POST", "/session/extend", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !agent.timer.extended {
		t.Error("Expected Extend to be called")
	}
}

func TestSessionExtend_NoSession(t *testing.T) {
	agent := newTestAgent()
	agent.timer.extendErr = auth.ErrNoCredential

	resp := agent.do("POST", "/session/extend", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	coord := &fakeCoord{}
	deps := agentDeps{
		coord:      coord,
		store:      &fakeStore{},
		timer:      &fakeTimer{},
		monitor:    fakeOnline(false),
		queue:      fakeDepth(3),
		defaultTTL: time.Minute,
	}
	handler := newAgentHandler(deps, newCookieMirror())

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["online"] != false {
		t.Errorf("online = %v, want false", body["online"])
	}
	if body["queue_depth"] != float64(3) {
		t.Errorf("queue_depth = %v, want 3", body["queue_depth"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	agent := newTestAgent()

	resp := agent.do("GET", "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "# HELP") || !strings.Contains(string(body), "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
}

func TestCookieMirror(t *testing.T) {
	agent := newTestAgent()
	agent.mirror.Set("tok-9", "cashier", time.Hour)

	resp := agent.do("GET", "/session", "")

	var session, role *http.Cookie
	for _, c := range resp.Cookies() {
		switch c.Name {
		case sessionCookieName:
			session = c
		case roleCookieName:
			role = c
		}
	}

	if session == nil || session.Value != "tok-9" || !session.HttpOnly {
		t.Errorf("Session cookie = %+v, want HttpOnly tok-9", session)
	}
	if role == nil || role.Value != "cashier" || role.HttpOnly {
		t.Errorf("Role cookie = %+v, want readable cashier", role)
	}
}

func TestCookieMirror_ClearedExpiresCookies(t *testing.T) {
	agent := newTestAgent()
	agent.mirror.Set("tok-9", "cashier", time.Hour)
	agent.mirror.Clear()

	resp := agent.do("GET", "/session", "")

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName && c.MaxAge != -1 {
			t.Errorf("Session cookie MaxAge = %d, want -1", c.MaxAge)
		}
	}
}
