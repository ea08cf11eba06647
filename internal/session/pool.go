package session

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned when submitting to a stopped pool.
var ErrPoolClosed = errors.New("worker pool closed")

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// Workers is the number of worker goroutines. Defaults to GOMAXPROCS.
	Workers int

	// QueueDepth is the per-worker inbox capacity. Defaults to 64.
	QueueDepth int

	// Logger for pool operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Pool is a fixed set of workers. Work submitted to the same slot runs on
// the same worker in submission order, which keeps each session's frames
// serialized while sessions on different slots run in parallel.
type Pool struct {
	inboxes []chan func()
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewPool starts the workers.
func NewPool(opts *PoolOptions) *Pool {
	if opts == nil {
		opts = &PoolOptions{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		inboxes: make([]chan func(), workers),
		logger:  logger,
	}
	for i := range p.inboxes {
		inbox := make(chan func(), depth)
		p.inboxes[i] = inbox
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range inbox {
				fn()
			}
		}()
	}
	logger.Debug("Worker pool started", "workers", workers, "queue_depth", depth)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.inboxes)
}

// Submit queues fn on the worker owning slot. It blocks while that worker's
// inbox is full.
func (p *Pool) Submit(ctx context.Context, slot int, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.inboxes[slot%len(p.inboxes)] <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the worker owning slot and waits for it to finish.
func (p *Pool) Do(ctx context.Context, slot int, fn func()) error {
	done := make(chan struct{})
	if err := p.Submit(ctx, slot, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll runs the queued work and stops every worker.
func (p *Pool) StopAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, inbox := range p.inboxes {
		close(inbox)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Worker pool stopped")
}
