package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dickson-Hardy/pos-client-go/pkg/auth"
	"github.com/Dickson-Hardy/pos-client-go/pkg/coordinator"
	"github.com/Dickson-Hardy/pos-client-go/pkg/syncqueue"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

// maxMutationBytes bounds proxied write bodies.
const maxMutationBytes = 1 << 20

// Narrow views of the wired components, so handler tests can fake them.
type requestCoordinator interface {
	Get(ctx context.Context, path string, priority coordinator.Priority, ttl time.Duration) ([]byte, error)
	Mutate(ctx context.Context, m coordinator.Mutation) (coordinator.MutateResult, error)
}

type credentialStore interface {
	Credentials() (auth.Credentials, bool)
	Set(ctx context.Context, token string, profile []byte) error
	Clear(ctx context.Context) error
}

type sessionTimer interface {
	State() auth.SessionState
	Remaining() time.Duration
	Extend(ctx context.Context) error
}

type onlineSource interface {
	Online() bool
}

type depthSource interface {
	Len() int
}

// agentDeps carries the wired components into the HTTP handlers.
type agentDeps struct {
	coord      requestCoordinator
	store      credentialStore
	timer      sessionTimer
	monitor    onlineSource
	queue      depthSource
	defaultTTL time.Duration
}

// newAgentHandler builds the agent's HTTP surface.
func newAgentHandler(deps agentDeps, mirror *cookieMirror) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /proxy/", deps.handleProxyGet)
	mux.HandleFunc("POST /proxy/", deps.handleProxyMutate)
	mux.HandleFunc("PUT /proxy/", deps.handleProxyMutate)
	mux.HandleFunc("DELETE /proxy/", deps.handleProxyMutate)
	mux.HandleFunc("GET /session", deps.handleSessionGet)
	mux.HandleFunc("POST /session/login", deps.handleSessionLogin)
	mux.HandleFunc("POST /session/logout", deps.handleSessionLogout)
	mux.HandleFunc("POST /session/extend", deps.handleSessionExtend)
	mux.HandleFunc("GET /healthz", deps.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mirror.middleware(mux)
}

// proxyPath extracts the backend path from a /proxy/ request, keeping
// the query string because it is part of the read's identity.
func proxyPath(r *http.Request) (string, error) {
	path := strings.TrimPrefix(r.URL.Path, "/proxy")
	if path == "" || path == "/" {
		return "", fmt.Errorf("missing backend path after /proxy/")
	}
	if q := r.URL.RawQuery; q != "" {
		path += "?" + q
	}
	return path, nil
}

func (a agentDeps) handleProxyGet(w http.ResponseWriter, r *http.Request) {
	path, err := proxyPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	priority := coordinator.PriorityMedium
	if h := r.Header.Get("X-Priority"); h != "" {
		priority, err = coordinator.ParsePriority(h)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ttl := a.defaultTTL
	if h := r.Header.Get("X-Cache-TTL"); h != "" {
		ttl, err = time.ParseDuration(h)
		if err != nil || ttl <= 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid X-Cache-TTL %q", h))
			return
		}
	}

	data, err := a.coord.Get(r.Context(), path, priority, ttl)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}

func (a agentDeps) handleProxyMutate(w http.ResponseWriter, r *http.Request) {
	path, err := proxyPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMutationBytes))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var kind syncqueue.Kind
	switch r.Method {
	case http.MethodPost:
		kind = syncqueue.KindCreate
	case http.MethodPut:
		kind = syncqueue.KindUpdate
	case http.MethodDelete:
		kind = syncqueue.KindDelete
	}

	res, err := a.coord.Mutate(r.Context(), coordinator.Mutation{
		Kind:    kind,
		Entity:  entityOf(path),
		Path:    path,
		Payload: payload,
	})
	if err != nil {
		writeProxyError(w, err)
		return
	}

	if res.Queued {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"queued":       true,
			"operation_id": res.Operation.ID,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(res.Response.Status)
	w.Write(res.Response.Body)
}

// entityOf derives the object class from a backend path: the first
// segment, so /sales/42 and /sales both invalidate and order as
// "sales".
func entityOf(path string) string {
	trimmed := strings.Trim(path, "/")
	if i := strings.IndexAny(trimmed, "/?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

type sessionReply struct {
	Active           bool   `json:"active"`
	State            string `json:"state"`
	Role             string `json:"role,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func (a agentDeps) sessionReply() sessionReply {
	creds, ok := a.store.Credentials()
	return sessionReply{
		Active:           ok,
		State:            string(a.timer.State()),
		Role:             creds.Role,
		RemainingSeconds: int(a.timer.Remaining().Seconds()),
	}
}

func (a agentDeps) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sessionReply())
}

func (a agentDeps) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token   string          `json:"token"`
		Profile json.RawMessage `json:"profile"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMutationBytes)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid login body: "+err.Error())
		return
	}
	if body.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.store.Set(r.Context(), body.Token, body.Profile); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrTokenExpired) {
			status = http.StatusUnauthorized
		}
		writeJSONError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, a.sessionReply())
}

func (a agentDeps) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clear(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a agentDeps) handleSessionExtend(w http.ResponseWriter, r *http.Request) {
	if err := a.timer.Extend(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrNoCredential) {
			status = http.StatusUnauthorized
		}
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.sessionReply())
}

func (a agentDeps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"online":      a.monitor.Online(),
		"queue_depth": a.queue.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeProxyError maps a transport failure onto the local response. The
// backend's own status passes through; transport-level failures become
// gateway errors.
func writeProxyError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	class := transport.ClassOf(err)

	var terr *transport.Error
	switch {
	case errors.As(err, &terr) && terr.StatusCode > 0:
		status = terr.StatusCode
	case class == transport.ErrorClassTimeout:
		status = http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrContextCancelled):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"class": string(class),
	})
}

// Session cookies mirrored onto every response. The token cookie stays
// HttpOnly; the role cookie is readable so server-rendered screens can
// branch on it without calling the agent.
const (
	sessionCookieName = "pos_session"
	roleCookieName    = "pos_session_role"
)

// cookieMirror adapts the credential mirror to session cookies on the
// local HTTP surface.
type cookieMirror struct {
	mu        sync.Mutex
	token     string
	role      string
	expiresAt time.Time
}

func newCookieMirror() *cookieMirror {
	return &cookieMirror{}
}

// Set records the mirrored credential.
func (m *cookieMirror) Set(token, role string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.role = role
	m.expiresAt = time.Now().Add(ttl)
	return nil
}

// Clear removes the mirrored credential.
func (m *cookieMirror) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.role = ""
	m.expiresAt = time.Time{}
	return nil
}

// middleware applies the session cookies before the handler writes.
func (m *cookieMirror) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.apply(w)
		next.ServeHTTP(w, r)
	})
}

func (m *cookieMirror) apply(w http.ResponseWriter) {
	m.mu.Lock()
	token, role, expires := m.token, m.role, m.expiresAt
	m.mu.Unlock()

	if token == "" || time.Now().After(expires) {
		http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Path: "/", MaxAge: -1, HttpOnly: true})
		http.SetCookie(w, &http.Cookie{Name: roleCookieName, Path: "/", MaxAge: -1})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     roleCookieName,
		Value:    role,
		Path:     "/",
		Expires:  expires,
		SameSite: http.SameSiteStrictMode,
	})
}
