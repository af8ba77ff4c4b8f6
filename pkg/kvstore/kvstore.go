// Package kvstore provides the origin-scoped key/value storage used for
// credentials, durable caches, and the offline sync queue. Implementations
// must be safe for concurrent use and byte-transparent: Get returns exactly
// the bytes previously passed to Set for the same key.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested key does not exist in the store.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal persistent byte store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Well-known keys used by the resilience layer. All implementations scope
// these under a per-origin namespace so two agents pointed at different
// backends never share state.
const (
	KeyCredentialToken   = "credential.token"
	KeyCredentialProfile = "credential.profile"
	KeySessionStart      = "session.start"
	KeySyncQueue         = "sync.queue"

	// CacheKeyPrefix is prepended to the durable cache instance name.
	CacheKeyPrefix = "cache."
)
