package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dickson-Hardy/pos-client-go/pkg/kvstore"
)

// Backend persists a cache's full table. Durable TimedCache instances call
// Save after every mutation and Load once on construction.
type Backend interface {
	// Save writes the serialized table, replacing any previous snapshot.
	Save(ctx context.Context, data []byte) error

	// Load returns the last saved snapshot, or (nil, nil) when none exists.
	Load(ctx context.Context) ([]byte, error)
}

// KVBackend stores cache snapshots in a kvstore.Store under "cache.<name>".
type KVBackend struct {
	kv  kvstore.Store
	key string
}

// NewKVBackend creates a backend persisting under the named cache key.
func NewKVBackend(kv kvstore.Store, name string) *KVBackend {
	if kv == nil {
		panic("kv store cannot be nil")
	}
	return &KVBackend{
		kv:  kv,
		key: "cache." + name,
	}
}

// Save writes the snapshot.
func (b *KVBackend) Save(ctx context.Context, data []byte) error {
	if err := b.kv.Set(ctx, b.key, data); err != nil {
		return fmt.Errorf("save cache %s: %w", b.key, err)
	}
	return nil
}

// Load reads the last snapshot. A never-saved cache yields (nil, nil).
func (b *KVBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.kv.Get(ctx, b.key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cache %s: %w", b.key, err)
	}
	return data, nil
}
