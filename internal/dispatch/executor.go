package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when work is handed to an executor that has shut down.
var ErrClosed = errors.New("executor closed")

// Executor runs tasks, possibly on another goroutine.
type Executor interface {
	Execute(task func())
}

// Inline runs every task on the calling goroutine.
type Inline struct{}

// Execute runs task immediately.
func (Inline) Execute(task func()) { task() }

// MainThread is the mailbox of the tick goroutine. Any goroutine may enqueue
// work; only the tick goroutine drains it with RunPending.
type MainThread struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewMainThread returns an empty mailbox.
func NewMainThread() *MainThread {
	return &MainThread{wake: make(chan struct{}, 1)}
}

// Execute enqueues task for the next RunPending call.
func (m *MainThread) Execute(task func()) {
	m.mu.Lock()
	m.pending = append(m.pending, task)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Wake is signalled whenever work is enqueued.
func (m *MainThread) Wake() <-chan struct{} {
	return m.wake
}

// RunPending runs every task enqueued so far, including tasks enqueued by
// the tasks it runs, and returns how many ran.
//
// Precondition: must be called from the tick goroutine.
func (m *MainThread) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, task := range batch {
			task()
			ran++
		}
	}
}

// Len returns the number of tasks waiting.
func (m *MainThread) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Call runs fn on the tick goroutine and waits for it to return.
//
// Postcondition: Returns fn's error, or ctx's error when ctx ends first. In
// the latter case fn may still run later.
func (m *MainThread) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	m.Execute(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool runs tasks on a bounded set of background goroutines.
type Pool struct {
	logger *zap.Logger
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPool returns a pool running at most limit tasks at once.
//
// Precondition: limit must be > 0.
func NewPool(limit int, logger *zap.Logger) *Pool {
	if limit <= 0 {
		panic(fmt.Sprintf("dispatch.NewPool: limit must be > 0, got %d", limit))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	return &Pool{logger: logger, group: g, ctx: gctx, cancel: cancel}
}

// Execute runs task on a pool goroutine, blocking while the pool is full.
// Tasks handed over after Close are dropped.
func (p *Pool) Execute(task func()) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.logger.Warn("dropping task on closed pool")
		return
	}
	p.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pool task panicked", zap.Any("panic", r))
			}
		}()
		task()
		return nil
	})
}

// Go runs fn on a pool goroutine with the pool's context. The first error
// returned by any fn is reported by Close.
func (p *Pool) Go(fn func(ctx context.Context) error) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	p.group.Go(func() error { return fn(p.ctx) })
	return nil
}

// Close stops accepting work, cancels the pool context and waits for running
// tasks.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	return p.group.Wait()
}
