package auth

import (
	"sync"
	"time"
)

// Mirror receives a copy of the credential for request-time consumers
// that cannot call into the store, such as server-rendered routing
// checks. The agent adapts this to a session cookie. Mirror writes are
// best-effort; the store never fails an operation over them.
type Mirror interface {
	// Set mirrors the token and a coarse role indicator for ttl.
	Set(token, role string, ttl time.Duration) error

	// Clear removes the mirrored state.
	Clear() error
}

// MemoryMirror keeps the last mirrored values in process memory. Used in
// tests and deployments without a side channel.
type MemoryMirror struct {
	mu        sync.Mutex
	token     string
	role      string
	expiresAt time.Time
}

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{}
}

// Set records the mirrored credential.
func (m *MemoryMirror) Set(token, role string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.role = role
	m.expiresAt = time.Now().Add(ttl)
	return nil
}

// Clear removes the mirrored credential.
func (m *MemoryMirror) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.role = ""
	m.expiresAt = time.Time{}
	return nil
}

// Snapshot returns the mirrored token and role. ok is false when the
// mirror is empty or past its lifetime.
func (m *MemoryMirror) Snapshot() (token, role string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || time.Now().After(m.expiresAt) {
		return "", "", false
	}
	return m.token, m.role, true
}
