package cache

import "time"

// entry is one cached value with its bookkeeping. Entries are serialized
// as-is for durable instances, so every field is exported to JSON.
type entry[V any] struct {
	// Value is the cached value.
	Value V `json:"value"`

	// CreatedAt is when the entry was set. Expiry is measured from here.
	CreatedAt time.Time `json:"created_at"`

	// TTL is the lifetime of the entry from CreatedAt.
	TTL time.Duration `json:"ttl"`

	// LastAccess is the time of the most recent successful Get (or the
	// set time if never read). Capacity eviction orders on this field.
	LastAccess time.Time `json:"last_access"`

	// AccessCount counts successful Gets. Diagnostics only.
	AccessCount uint64 `json:"access_count"`
}

// expiredAt reports whether the entry is stale at the given instant.
// The boundary counts as expired: an entry with TTL d is readable
// strictly before CreatedAt+d and gone from then on.
func (e *entry[V]) expiredAt(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Stats is a read-only view of an entry's bookkeeping, for diagnostics.
type Stats struct {
	CreatedAt   time.Time
	LastAccess  time.Time
	TTL         time.Duration
	AccessCount uint64
}
