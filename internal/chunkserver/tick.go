package chunkserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type phase struct {
	name string
	fn   func() error
}

// TickLoop runs registered phases in registration order once per interval on
// a single goroutine.
//
// Invariant: phases never run concurrently with each other.
type TickLoop struct {
	interval time.Duration
	logger   *zap.Logger
	ticks    atomic.Int64

	mu     sync.Mutex
	phases []phase
}

// NewTickLoop returns a loop that fires every interval.
//
// Precondition: interval must be > 0.
func NewTickLoop(interval time.Duration, logger *zap.Logger) *TickLoop {
	if interval <= 0 {
		panic("chunkserver.NewTickLoop: interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickLoop{interval: interval, logger: logger}
}

// RegisterPhase appends a named phase. Registering an existing name replaces
// its function in place.
func (l *TickLoop) RegisterPhase(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.phases {
		if l.phases[i].name == name {
			l.phases[i].fn = fn
			return
		}
	}
	l.phases = append(l.phases, phase{name: name, fn: fn})
}

// Unregister removes the named phase.
func (l *TickLoop) Unregister(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.phases {
		if l.phases[i].name == name {
			l.phases = append(l.phases[:i], l.phases[i+1:]...)
			return
		}
	}
}

// Ticks returns the number of completed ticks.
func (l *TickLoop) Ticks() int64 {
	return l.ticks.Load()
}

// Run ticks until ctx is cancelled or a phase fails.
//
// Postcondition: Returns nil on cancellation, or the first phase error
// wrapped with the tick number and phase name.
func (l *TickLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.tick(); err != nil {
				return err
			}
		}
	}
}

func (l *TickLoop) tick() error {
	l.mu.Lock()
	phases := append([]phase(nil), l.phases...)
	l.mu.Unlock()

	start := time.Now()
	n := l.ticks.Load() + 1
	for _, p := range phases {
		if err := p.fn(); err != nil {
			return fmt.Errorf("tick %d phase %s: %w", n, p.name, err)
		}
	}
	l.ticks.Store(n)
	if elapsed := time.Since(start); elapsed > l.interval {
		l.logger.Warn("tick overran interval",
			zap.Int64("tick", n),
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", l.interval),
		)
	}
	return nil
}
