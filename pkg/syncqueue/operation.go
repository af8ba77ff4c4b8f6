package syncqueue

import (
	"encoding/json"
	"time"
)

// Kind is the type of a queued mutation.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Operation is one mutation waiting to be replayed against the backend.
// Operations are serialized as-is into the persisted queue.
type Operation struct {
	// ID uniquely identifies the operation across restarts.
	ID string `json:"id"`

	// Kind selects the HTTP method on replay.
	Kind Kind `json:"kind"`

	// Entity names the object class the mutation touches, for example
	// "sales". Used for cache invalidation and same-entity ordering.
	Entity string `json:"entity"`

	// Path is the backend path the mutation targets.
	Path string `json:"path"`

	// Payload is the request body, if any.
	Payload json.RawMessage `json:"payload,omitempty"`

	// EnqueuedAt is when the operation entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// RetryCount is how many replay attempts have failed so far.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the operation's replay budget, stamped at enqueue
	// time so a persisted operation carries its own limit.
	MaxRetries int `json:"max_retries"`
}
