package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// task is one unit of scheduled work. abort settles the task's waiters
// when the scheduler shuts down before a worker picks it up.
type task struct {
	run        func()
	abort      func()
	priority   Priority
	enqueuedAt time.Time
}

// scheduler runs submitted work on a fixed number of workers, always
// picking the oldest task of the highest non-empty tier. Lower tiers wait
// while higher tiers hold work; there is no aging.
type scheduler struct {
	width int

	mu     sync.Mutex
	cond   *sync.Cond
	tiers  [numPriorities][]*task
	closed bool
}

func newScheduler(width int) *scheduler {
	s := &scheduler{width: width}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// start launches the workers. They exit when ctx ends or close is called.
func (s *scheduler) start(ctx context.Context) {
	for i := 0; i < s.width; i++ {
		go s.worker()
	}
	go func() {
		<-ctx.Done()
		s.close()
	}()
}

// submit queues work on the given tier.
func (s *scheduler) submit(p Priority, run, abort func()) error {
	if !p.valid() {
		return fmt.Errorf("invalid priority %d", p)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.tiers[p] = append(s.tiers[p], &task{
		run:        run,
		abort:      abort,
		priority:   p,
		enqueuedAt: time.Now(),
	})
	s.mu.Unlock()

	posCoordQueueDepth.WithLabelValues(p.String()).Inc()
	s.cond.Signal()
	return nil
}

// close shuts the scheduler down and aborts everything still queued so
// no waiter hangs. Safe to call more than once.
func (s *scheduler) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	var aborted []*task
	for i := range s.tiers {
		aborted = append(aborted, s.tiers[i]...)
		s.tiers[i] = nil
	}
	s.mu.Unlock()

	s.cond.Broadcast()
	for _, t := range aborted {
		posCoordQueueDepth.WithLabelValues(t.priority.String()).Dec()
		if t.abort != nil {
			t.abort()
		}
	}
}

func (s *scheduler) worker() {
	for {
		t := s.next()
		if t == nil {
			return
		}
		posCoordQueueWaitSeconds.WithLabelValues(t.priority.String()).
			Observe(time.Since(t.enqueuedAt).Seconds())
		t.run()
	}
}

// next blocks until work is available, returning the oldest task of the
// highest non-empty tier, or nil once the scheduler is closed.
func (s *scheduler) next() *task {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return nil
		}
		for i := numPriorities - 1; i >= 0; i-- {
			if len(s.tiers[i]) > 0 {
				t := s.tiers[i][0]
				s.tiers[i] = s.tiers[i][1:]
				posCoordQueueDepth.WithLabelValues(t.priority.String()).Dec()
				return t
			}
		}
		s.cond.Wait()
	}
}

// depth returns the total number of queued tasks.
func (s *scheduler) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.tiers {
		n += len(s.tiers[i])
	}
	return n
}
