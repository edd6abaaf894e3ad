package chunk

import (
	"context"
	"sync"
)

// Future is a value completed exactly once. Continuations registered with Then
// run on the goroutine that completes the future, or immediately when it is
// already complete.
//
// It is safe for concurrent use.
type Future[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	value T
	err   error
	then  []func(T, error)
}

// NewFuture returns an incomplete Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// CompletedFuture returns a Future already completed with value.
func CompletedFuture[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value, nil)
	return f
}

// Complete stores the outcome and runs pending continuations. Later calls are
// ignored and report false.
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.value, f.err = value, err
	close(f.done)
	then := f.then
	f.then = nil
	f.mu.Unlock()

	for _, fn := range then {
		fn(value, err)
	}
	return true
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on completion.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until completion or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to observe the outcome.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f.value, f.err)
		return
	default:
	}
	f.then = append(f.then, fn)
	f.mu.Unlock()
}
