package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

// ErrNoBatchResult indicates the shared batch response carried no entry
// for a caller's request id.
var ErrNoBatchResult = errors.New("batch response carries no result for request")

// BatchFunc dispatches a coalesced batch. Payloads and results are keyed
// by request id; every id in payloads should appear in the result map.
type BatchFunc func(ctx context.Context, payloads map[string]json.RawMessage) (map[string]json.RawMessage, error)

// BatchConfig enables request coalescing.
type BatchConfig struct {
	// Dispatch sends one coalesced batch to the backend. Required.
	Dispatch BatchFunc

	// Window is how long the first request of a batch waits for company.
	// Defaults to DefaultBatchWindow.
	Window time.Duration

	// MaxSize dispatches a batch early once this many requests have
	// coalesced. Defaults to DefaultBatchMaxSize.
	MaxSize int
}

type batchResult struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	id      string
	payload json.RawMessage
	ch      chan batchResult
}

// batcher accumulates requests for one window, dispatches them together
// and resolves each caller independently from the shared response.
type batcher struct {
	dispatch BatchFunc
	window   time.Duration
	maxSize  int
	ctxFn    func() context.Context
	logger   zerolog.Logger

	mu    sync.Mutex
	reqs  []pendingRequest
	timer *time.Timer
}

func newBatcher(cfg BatchConfig, ctxFn func() context.Context, logger zerolog.Logger) *batcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBatchWindow
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultBatchMaxSize
	}
	return &batcher{
		dispatch: cfg.Dispatch,
		window:   cfg.Window,
		maxSize:  cfg.MaxSize,
		ctxFn:    ctxFn,
		logger:   logger,
	}
}

// submit queues a payload under id and blocks until the batch it joined
// resolves or ctx ends. Abandoning a result does not stop the batch.
func (b *batcher) submit(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("batch request id is required")
	}

	b.mu.Lock()
	for _, r := range b.reqs {
		if r.id == id {
			b.mu.Unlock()
			return nil, fmt.Errorf("batch request id %q already pending", id)
		}
	}
	ch := make(chan batchResult, 1)
	b.reqs = append(b.reqs, pendingRequest{id: id, payload: payload, ch: ch})
	n := len(b.reqs)
	if n == 1 {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	full := n >= b.maxSize
	if full && b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	if full {
		b.flush()
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", transport.ErrContextCancelled, ctx.Err())
	}
}

// flush dispatches everything currently pending. The window timer and an
// early full dispatch may both call it; whoever arrives second finds the
// batch empty and returns.
func (b *batcher) flush() {
	b.mu.Lock()
	reqs := b.reqs
	b.reqs = nil
	b.mu.Unlock()

	if len(reqs) == 0 {
		return
	}

	payloads := make(map[string]json.RawMessage, len(reqs))
	for _, r := range reqs {
		payloads[r.id] = r.payload
	}

	posCoordBatchesTotal.Inc()
	posCoordBatchSize.Observe(float64(len(reqs)))
	b.logger.Debug().Int("size", len(reqs)).Msg("Dispatching coalesced batch")

	results, err := b.dispatch(b.ctxFn(), payloads)
	for _, r := range reqs {
		if err != nil {
			r.ch <- batchResult{err: err}
			continue
		}
		if data, ok := results[r.id]; ok {
			r.ch <- batchResult{data: data}
		} else {
			r.ch <- batchResult{err: fmt.Errorf("%w: %s", ErrNoBatchResult, r.id)}
		}
	}
}
