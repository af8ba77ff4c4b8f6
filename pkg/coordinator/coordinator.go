// Package coordinator schedules reads and mutations against the backend.
//
// Reads are deduplicated by logical key: every caller of a key that is
// already in flight shares the one network call, and the shared entry is
// dropped the instant that call settles. Fetches run on a bounded worker
// pool over four priority tiers and fill the read cache on success. A
// caller that stops waiting does not stop the fetch; the result still
// lands in the cache.
//
// Mutations go straight through the retrying transport. When the backend
// is unreachable, offline or the failure is network-class, the mutation
// is handed to the offline sync queue and the caller gets a Queued result
// instead of an error.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
	"github.com/Dickson-Hardy/pos-client-go/pkg/syncqueue"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

const (
	// DefaultWorkers is the fetch worker pool width.
	DefaultWorkers = 3

	// DefaultBatchWindow is how long the first request of a batch waits
	// for company.
	DefaultBatchWindow = 50 * time.Millisecond

	// DefaultBatchMaxSize dispatches a batch early once reached.
	DefaultBatchMaxSize = 10
)

// ErrClosed is returned for work submitted after shutdown.
var ErrClosed = errors.New("coordinator closed")

// Doer is the transport view the coordinator needs. Satisfied by
// *transport.Transport.
type Doer interface {
	Do(ctx context.Context, method, path string, payload []byte) (*transport.Response, error)
}

// ReadCache is the cache view the coordinator needs. Satisfied by
// *cache.TimedCache[[]byte].
type ReadCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePattern(ctx context.Context, match func(key string) bool) (int, error)
}

// MutationQueue is the sync queue view the coordinator needs. Satisfied
// by *syncqueue.Queue.
type MutationQueue interface {
	Enqueue(ctx context.Context, kind syncqueue.Kind, entity, path string, payload []byte) (syncqueue.Operation, error)
	HasPending(entity string) bool
	Kick()
}

// ConnectivitySource reports whether the backend is reachable. Satisfied
// by *connectivity.Monitor.
type ConnectivitySource interface {
	Online() bool
}

// FetchFunc performs the network read for a coordinated request.
type FetchFunc func(ctx context.Context) ([]byte, error)

// RequestSpec describes one coordinated read.
type RequestSpec struct {
	// Key is the logical identity, typically built with RequestKey.
	// Equal keys dedup and cache together. Required.
	Key string

	// Priority selects the scheduling tier. The zero value is
	// PriorityLow.
	Priority Priority

	// TTL is the cache lifetime of the result. Non-positive uses the
	// cache's default.
	TTL time.Duration

	// Fetch performs the network call. It receives the coordinator's
	// root context, not any single caller's. Required.
	Fetch FetchFunc
}

// Mutation describes one write against the backend.
type Mutation struct {
	// Kind selects the HTTP method: create POST, update PUT,
	// delete DELETE.
	Kind syncqueue.Kind

	// Entity names the object class the write touches. Drives cache
	// invalidation and ordering against queued operations. May be empty.
	Entity string

	// Path is the backend path. Required.
	Path string

	// Payload is the request body, if any.
	Payload []byte
}

// MutateResult is the outcome of a Mutate call.
type MutateResult struct {
	// Queued reports the mutation went to the offline queue instead of
	// the backend. The write is accepted, not yet applied.
	Queued bool

	// Response is the backend response for a direct mutation.
	Response *transport.Response

	// Operation is the queued operation when Queued is set.
	Operation syncqueue.Operation
}

// Config holds Coordinator settings.
type Config struct {
	// Transport sends mutations and replays. Required.
	Transport Doer

	// Cache stores read results. Optional.
	Cache ReadCache

	// Queue accepts mutations that cannot reach the backend. Optional,
	// but without it offline mutations fail.
	Queue MutationQueue

	// Monitor short-circuits mutations to the queue while offline.
	// Optional.
	Monitor ConnectivitySource

	// Workers is the fetch pool width. Defaults to DefaultWorkers.
	Workers int

	// Batch enables request coalescing. Nil disables it.
	Batch *BatchConfig
}

type fetchResult struct {
	data []byte
	err  error
}

// Coordinator is the single entry point for reads and writes. All
// methods are safe for concurrent use.
type Coordinator struct {
	transport Doer
	cache     ReadCache
	queue     MutationQueue
	monitor   ConnectivitySource
	sched     *scheduler
	batcher   *batcher
	logger    zerolog.Logger
	group     singleflight.Group

	mu      sync.RWMutex
	rootCtx context.Context
}

// New creates a Coordinator. Call Start before issuing requests.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	c := &Coordinator{
		transport: cfg.Transport,
		cache:     cfg.Cache,
		queue:     cfg.Queue,
		monitor:   cfg.Monitor,
		sched:     newScheduler(cfg.Workers),
		logger:    logging.NewLogger("coordinator"),
		rootCtx:   context.Background(),
	}

	if cfg.Batch != nil {
		if cfg.Batch.Dispatch == nil {
			return nil, fmt.Errorf("batch dispatch func is required")
		}
		c.batcher = newBatcher(*cfg.Batch, c.rootContext, c.logger)
	}

	c.logger.Info().Int("workers", cfg.Workers).Msg("Coordinator initialized")
	return c, nil
}

// Start launches the fetch workers. In-flight fetches run on ctx rather
// than on the contexts of the callers sharing them.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.rootCtx = ctx
	c.mu.Unlock()
	c.sched.start(ctx)
}

// Close stops the workers and aborts queued fetches.
func (c *Coordinator) Close() {
	c.sched.close()
}

// Request resolves a read: from the cache when possible, otherwise from
// a scheduled fetch shared by every concurrent caller of the same key.
// When ctx ends first the caller stops waiting, but the fetch completes
// and still fills the cache.
func (c *Coordinator) Request(ctx context.Context, spec RequestSpec) ([]byte, error) {
	if spec.Key == "" {
		return nil, fmt.Errorf("request key is required")
	}
	if spec.Fetch == nil {
		return nil, fmt.Errorf("fetch func is required")
	}
	if !spec.Priority.valid() {
		return nil, fmt.Errorf("invalid priority %d", spec.Priority)
	}

	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, spec.Key); ok {
			posCoordRequestsTotal.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}

	ch := c.group.DoChan(spec.Key, func() (interface{}, error) {
		return c.fetch(spec)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			posCoordRequestsTotal.WithLabelValues("shared").Inc()
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", transport.ErrContextCancelled, ctx.Err())
	}
}

// Get is Request for a plain transport read of path.
func (c *Coordinator) Get(ctx context.Context, path string, priority Priority, ttl time.Duration) ([]byte, error) {
	return c.Request(ctx, RequestSpec{
		Key:      RequestKey(path, nil),
		Priority: priority,
		TTL:      ttl,
		Fetch: func(fctx context.Context) ([]byte, error) {
			resp, err := c.transport.Do(fctx, http.MethodGet, path, nil)
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		},
	})
}

// fetch schedules the network call and blocks until a worker ran it,
// then fills the cache on success. Runs inside the shared flight.
func (c *Coordinator) fetch(spec RequestSpec) ([]byte, error) {
	resCh := make(chan fetchResult, 1)
	err := c.sched.submit(spec.Priority,
		func() {
			data, err := spec.Fetch(c.rootContext())
			resCh <- fetchResult{data: data, err: err}
		},
		func() {
			resCh <- fetchResult{err: ErrClosed}
		},
	)
	if err != nil {
		return nil, err
	}

	res := <-resCh
	if res.err != nil {
		return nil, res.err
	}
	posCoordRequestsTotal.WithLabelValues("fetch").Inc()

	if c.cache != nil {
		if err := c.cache.Set(c.rootContext(), spec.Key, res.data, spec.TTL); err != nil {
			c.logger.Warn().Err(err).Str("key", spec.Key).Msg("Failed to cache fetched result")
		}
	}
	return res.data, nil
}

// Mutate applies a write. Reachable backend: the write goes through the
// transport and, on success, invalidates cached reads of the entity.
// Offline, network-class failure, or a queued operation already pending
// for the same entity: the write goes to the sync queue and the result
// reports Queued with no error.
func (c *Coordinator) Mutate(ctx context.Context, m Mutation) (MutateResult, error) {
	if m.Path == "" {
		return MutateResult{}, fmt.Errorf("mutation path is required")
	}
	method, err := methodFor(m.Kind)
	if err != nil {
		return MutateResult{}, err
	}

	// A queued operation on the same entity must replay first; sending
	// this write directly would reorder writes to that entity.
	if c.queue != nil && m.Entity != "" && c.queue.HasPending(m.Entity) {
		res, err := c.enqueue(ctx, m, "queued_ordering")
		if err == nil {
			c.queue.Kick()
		}
		return res, err
	}

	if c.monitor != nil && !c.monitor.Online() {
		return c.enqueue(ctx, m, "queued_offline")
	}

	resp, err := c.transport.Do(ctx, method, m.Path, m.Payload)
	if err != nil {
		if transport.ClassOf(err) == transport.ErrorClassNetwork {
			return c.enqueue(ctx, m, "queued_network")
		}
		posCoordMutationsTotal.WithLabelValues("failed").Inc()
		return MutateResult{}, err
	}

	posCoordMutationsTotal.WithLabelValues("direct").Inc()
	c.invalidateEntity(ctx, m.Entity)
	return MutateResult{Response: resp}, nil
}

// ReplayOperation sends one queued operation through the transport.
// Wired as the sync queue's ReplayFunc so replays take the same path,
// and the same cache invalidation, as direct mutations.
func (c *Coordinator) ReplayOperation(ctx context.Context, op syncqueue.Operation) error {
	method, err := methodFor(op.Kind)
	if err != nil {
		return err
	}
	if _, err := c.transport.Do(ctx, method, op.Path, op.Payload); err != nil {
		return err
	}
	c.invalidateEntity(ctx, op.Entity)
	return nil
}

// Batch coalesces the payload with others arriving inside the window
// and resolves it from the shared response by id.
func (c *Coordinator) Batch(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
	if c.batcher == nil {
		return nil, fmt.Errorf("batching not configured")
	}
	return c.batcher.submit(ctx, id, payload)
}

func (c *Coordinator) enqueue(ctx context.Context, m Mutation, outcome string) (MutateResult, error) {
	if c.queue == nil {
		posCoordMutationsTotal.WithLabelValues("failed").Inc()
		return MutateResult{}, fmt.Errorf("backend unreachable and no sync queue configured")
	}

	op, err := c.queue.Enqueue(ctx, m.Kind, m.Entity, m.Path, m.Payload)
	if err != nil {
		posCoordMutationsTotal.WithLabelValues("failed").Inc()
		return MutateResult{}, err
	}

	posCoordMutationsTotal.WithLabelValues(outcome).Inc()
	return MutateResult{Queued: true, Operation: op}, nil
}

// invalidateEntity drops cached reads staled by a successful mutation.
func (c *Coordinator) invalidateEntity(ctx context.Context, entity string) {
	if c.cache == nil || entity == "" {
		return
	}
	n, err := c.cache.InvalidatePattern(ctx, EntityMatcher(entity))
	if err != nil {
		c.logger.Warn().Err(err).Str("entity", entity).Msg("Failed to invalidate cached reads")
		return
	}
	if n > 0 {
		c.logger.Debug().Str("entity", entity).Int("count", n).Msg("Invalidated cached reads")
	}
}

func (c *Coordinator) rootContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rootCtx
}

func methodFor(kind syncqueue.Kind) (string, error) {
	switch kind {
	case syncqueue.KindCreate:
		return http.MethodPost, nil
	case syncqueue.KindUpdate:
		return http.MethodPut, nil
	case syncqueue.KindDelete:
		return http.MethodDelete, nil
	default:
		return "", fmt.Errorf("unknown mutation kind %q", kind)
	}
}
