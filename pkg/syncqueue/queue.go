// Package syncqueue holds mutations that could not reach the backend and
// replays them once it is reachable again.
//
// The queue is durable: its contents are persisted through a kvstore.Store
// after every change and reloaded on construction, so a process restart
// loses no pending work. Replay is strictly FIFO. A drain pass runs when
// kicked (typically from an offline-to-online transition) and on a periodic
// ticker as a safety net; at most one pass runs at a time. Each operation
// in a pass gets one replay attempt: success removes it, a non-network
// failure charges its retry budget, and a network failure aborts the pass
// without charging anyone, since the backend is evidently still away.
// Operations that exhaust their budget are dropped for good and reported
// through OnAbandoned observers.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/kvstore"
	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

const (
	// queueKey is the kvstore key holding the serialized queue.
	queueKey = kvstore.KeySyncQueue

	// DefaultMaxRetries bounds replay attempts per operation.
	DefaultMaxRetries = 5

	// DefaultDrainInterval is the periodic drain safety net.
	DefaultDrainInterval = time.Minute
)

var (
	// posSyncQueueDepth tracks the number of pending operations
	posSyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_sync_queue_depth",
			Help: "Current number of pending offline mutations",
		},
	)

	// posSyncEnqueuedTotal counts queued mutations by kind
	posSyncEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_enqueued_total",
			Help: "Total number of mutations queued for offline replay",
		},
		[]string{"kind"},
	)

	// posSyncReplaysTotal counts replay attempts by outcome
	posSyncReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_replays_total",
			Help: "Total number of replay attempts by outcome",
		},
		[]string{"outcome"}, // "success", "retry", "abandoned"
	)
)

// ReplayFunc sends one queued operation to the backend. Implementations
// route through the retrying transport so replay failures carry an error
// class.
type ReplayFunc func(ctx context.Context, op Operation) error

// Config holds Queue settings.
type Config struct {
	// KV persists the queue. Required.
	KV kvstore.Store

	// Replay sends operations to the backend. Required.
	Replay ReplayFunc

	// MaxRetries bounds replay attempts per operation before it is
	// abandoned. Defaults to DefaultMaxRetries.
	MaxRetries int

	// DrainInterval is the periodic drain cadence. Defaults to
	// DefaultDrainInterval.
	DrainInterval time.Duration
}

// Queue is a durable FIFO of offline mutations. All methods are safe for
// concurrent use.
type Queue struct {
	kv         kvstore.Store
	replay     ReplayFunc
	maxRetries int
	interval   time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu        sync.Mutex
	ops       []Operation
	draining  bool
	abandoned map[int]func(Operation, error)
	nextSubID int

	kickCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Queue, reloading any operations persisted by a previous
// run. A corrupt persisted queue is an error: silently starting empty
// would discard mutations.
func New(cfg Config) (*Queue, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("replay func is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}

	q := &Queue{
		kv:         cfg.KV,
		replay:     cfg.Replay,
		maxRetries: cfg.MaxRetries,
		interval:   cfg.DrainInterval,
		logger:     logging.NewLogger("syncqueue"),
		now:        time.Now,
		abandoned:  make(map[int]func(Operation, error)),
		kickCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}

	if err := q.load(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue appends a mutation and persists the queue before reporting
// success.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, entity, path string, payload []byte) (Operation, error) {
	op := Operation{
		ID:         uuid.New().String(),
		Kind:       kind,
		Entity:     entity,
		Path:       path,
		Payload:    payload,
		EnqueuedAt: q.now().UTC(),
		MaxRetries: q.maxRetries,
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	if err := q.persistLocked(ctx); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		q.mu.Unlock()
		return Operation{}, err
	}
	depth := len(q.ops)
	q.mu.Unlock()

	posSyncEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	q.logger.Info().
		Str("kind", string(kind)).
		Str("entity", entity).
		Str("path", path).
		Int("depth", depth).
		Msg("Mutation queued for offline replay")

	return op, nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Pending returns a snapshot of the queued operations in replay order.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// HasPending reports whether any queued operation touches the entity.
// The coordinator appends fresh mutations for such entities behind the
// queue instead of letting them race the replay.
func (q *Queue) HasPending(entity string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.Entity == entity {
			return true
		}
	}
	return false
}

// OnAbandoned registers fn for operations dropped after exhausting their
// retry budget and returns an unsubscribe func.
func (q *Queue) OnAbandoned(fn func(Operation, error)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSubID
	q.nextSubID++
	q.abandoned[id] = fn

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.abandoned, id)
	}
}

// Kick requests a drain pass without blocking. Wired to the connectivity
// monitor's offline-to-online transition.
func (q *Queue) Kick() {
	select {
	case q.kickCh <- struct{}{}:
	default:
	}
}

// Start launches the drain loop until ctx ends or Stop is called. One
// pass runs immediately to pick up work reloaded from a previous run.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		q.Drain(ctx)

		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-q.kickCh:
				q.Drain(ctx)
			case <-ticker.C:
				q.Drain(ctx)
			}
		}
	}()
}

// Stop ends the drain loop. Safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Drain runs one replay pass in FIFO order. If a pass is already running
// the call returns immediately.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining || len(q.ops) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	depth := len(q.ops)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	q.logger.Debug().Int("depth", depth).Msg("Draining offline queue")

	// Only this pass removes operations and Enqueue only appends, so the
	// cursor stays valid across unlocked replay calls.
	idx := 0
	for {
		q.mu.Lock()
		if idx >= len(q.ops) {
			q.mu.Unlock()
			return
		}
		op := q.ops[idx]
		q.mu.Unlock()

		err := q.replay(ctx, op)
		switch {
		case err == nil:
			q.settle(ctx, op.ID)
			posSyncReplaysTotal.WithLabelValues("success").Inc()
			q.logger.Info().
				Str("kind", string(op.Kind)).
				Str("path", op.Path).
				Msg("Queued mutation replayed")

		case errors.Is(err, transport.ErrContextCancelled) || errors.Is(err, context.Canceled):
			// Shutdown, not a verdict on the operation.
			return

		case transport.ClassOf(err) == transport.ErrorClassNetwork:
			// Still offline. Nothing in this pass gets charged.
			q.logger.Debug().Err(err).Msg("Backend still unreachable, drain aborted")
			return

		default:
			charged, dropped := q.charge(ctx, op.ID)
			if dropped {
				posSyncReplaysTotal.WithLabelValues("abandoned").Inc()
				q.logger.Error().
					Err(err).
					Str("kind", string(charged.Kind)).
					Str("path", charged.Path).
					Int("retries", charged.RetryCount).
					Msg("Queued mutation abandoned after exhausting retries")
				q.notifyAbandoned(charged, err)
			} else {
				posSyncReplaysTotal.WithLabelValues("retry").Inc()
				q.logger.Warn().
					Err(err).
					Str("path", charged.Path).
					Int("retries", charged.RetryCount).
					Msg("Queued mutation replay failed, keeping for retry")
				idx++
			}
		}
	}
}

// settle removes a successfully replayed operation.
func (q *Queue) settle(ctx context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			break
		}
	}
	if err := q.persistLocked(ctx); err != nil {
		q.logger.Warn().Err(err).Msg("Failed to persist sync queue after replay")
	}
}

// charge increments an operation's retry count, dropping it once the
// budget is spent. Returns the operation and whether it was dropped.
func (q *Queue) charge(ctx context.Context, id string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID != id {
			continue
		}
		q.ops[i].RetryCount++
		op := q.ops[i]

		// Operations persisted before the budget was stamped fall back
		// to the queue-wide limit.
		budget := op.MaxRetries
		if budget <= 0 {
			budget = q.maxRetries
		}
		dropped := op.RetryCount >= budget
		if dropped {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
		}
		if err := q.persistLocked(ctx); err != nil {
			q.logger.Warn().Err(err).Msg("Failed to persist sync queue after retry charge")
		}
		return op, dropped
	}
	return Operation{}, false
}

func (q *Queue) notifyAbandoned(op Operation, err error) {
	q.mu.Lock()
	subs := make([]func(Operation, error), 0, len(q.abandoned))
	for _, fn := range q.abandoned {
		subs = append(subs, fn)
	}
	q.mu.Unlock()

	for _, fn := range subs {
		fn(op, err)
	}
}

// persistLocked writes the queue to the kvstore. Caller holds q.mu.
func (q *Queue) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(q.ops)
	if err != nil {
		return fmt.Errorf("marshal sync queue: %w", err)
	}
	if err := q.kv.Set(ctx, queueKey, data); err != nil {
		return fmt.Errorf("persist sync queue: %w", err)
	}
	posSyncQueueDepth.Set(float64(len(q.ops)))
	return nil
}

// load restores the queue from the kvstore.
func (q *Queue) load(ctx context.Context) error {
	data, err := q.kv.Get(ctx, queueKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load sync queue: %w", err)
	}

	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("unmarshal sync queue: %w", err)
	}

	q.ops = ops
	posSyncQueueDepth.Set(float64(len(q.ops)))
	if len(ops) > 0 {
		q.logger.Info().Int("depth", len(ops)).Msg("Restored pending mutations from previous run")
	}
	return nil
}
