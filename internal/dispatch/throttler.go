package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

// DefaultMaxInExecution is the number of keys a Throttler lets run at once
// unless configured otherwise.
const DefaultMaxInExecution = 4

// Throttler hands queued per-key work to an executor in priority order while
// keeping at most maxInExecution keys in execution. A key enters execution
// when its tasks are handed over and leaves it only when Release is called
// for it; tasks submitted for a key in execution wait until then.
//
// Invariant: len(inExecution) <= maxInExecution.
//
// Concurrency: Throttler is safe for concurrent use.
type Throttler struct {
	name     string
	executor Executor
	max      int
	logger   *zap.Logger

	mu          sync.Mutex
	queue       *PriorityQueue
	inExecution map[chunk.Key]struct{}
	closed      bool
}

// NewThrottler returns a Throttler named name that runs tasks on executor.
//
// Precondition: executor must be non-nil; maxInExecution must be > 0.
func NewThrottler(name string, executor Executor, maxInExecution int, logger *zap.Logger) *Throttler {
	if executor == nil {
		panic("dispatch.NewThrottler: executor must not be nil")
	}
	if maxInExecution <= 0 {
		panic(fmt.Sprintf("dispatch.NewThrottler: maxInExecution must be > 0, got %d", maxInExecution))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttler{
		name:        name,
		executor:    executor,
		max:         maxInExecution,
		logger:      logger.With(zap.String("throttler", name)),
		queue:       NewPriorityQueue(),
		inExecution: make(map[chunk.Key]struct{}),
	}
}

// Submit queues task for k at the priority levelFn reports now.
func (t *Throttler) Submit(task func(), k chunk.Key, levelFn func() int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Debug("submit after close", zap.Stringer("chunk", k))
		return
	}
	t.queue.Submit(task, k, clampPriority(levelFn()))
	batches := t.pumpLocked()
	t.mu.Unlock()
	t.run(batches)
}

// Release takes k out of execution, dropping its queued tasks when fullClear
// is set, and then runs after on the executor. Releasing a key that is
// neither queued nor in execution only runs after.
func (t *Throttler) Release(k chunk.Key, after func(), fullClear bool) {
	t.mu.Lock()
	if _, running := t.inExecution[k]; !running && !t.queue.Contains(k) {
		t.logger.Debug("release of unknown chunk", zap.Stringer("chunk", k), zap.Bool("full_clear", fullClear))
	}
	t.queue.Release(k, fullClear)
	delete(t.inExecution, k)
	var batches []func()
	if !t.closed {
		batches = t.pumpLocked()
	}
	t.mu.Unlock()
	if after != nil {
		t.executor.Execute(after)
	}
	t.run(batches)
}

// OnLevelChange moves k's queued tasks from the priority currentLevelFn
// reports to newLevel, then stores newLevel through storeFn. Both callbacks
// run with the throttler locked.
func (t *Throttler) OnLevelChange(k chunk.Key, currentLevelFn func() int, newLevel int, storeFn func(int)) {
	t.mu.Lock()
	t.queue.Resort(k, currentLevelFn(), clampPriority(newLevel))
	storeFn(newLevel)
	t.mu.Unlock()
}

// InExecution returns the number of keys currently in execution.
func (t *Throttler) InExecution() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inExecution)
}

// Queued returns the number of keys waiting.
func (t *Throttler) Queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

// DebugStatus renders the keys in execution and the queue size as
// "name=[[x, z],...], s=<queued>".
func (t *Throttler) DebugStatus() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.inExecution))
	for k := range t.inExecution {
		keys = append(keys, k.String())
	}
	return fmt.Sprintf("%s=[%s], s=%d", t.name, strings.Join(keys, ","), t.queue.Len())
}

// Close stops handing queued work to the executor. Keys already in
// execution may still be released.
func (t *Throttler) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.logger.Debug("throttler closed", zap.Int("queued", t.queue.Len()), zap.Int("in_execution", len(t.inExecution)))
}

// pumpLocked pops queued keys into execution while capacity remains and
// returns the work to hand to the executor once the lock is released.
func (t *Throttler) pumpLocked() []func() {
	var batches []func()
	for len(t.inExecution) < t.max {
		k, tasks, ok := t.queue.PopEligible(t.executing)
		if !ok {
			break
		}
		t.inExecution[k] = struct{}{}
		batches = append(batches, func() {
			for _, task := range tasks {
				task()
			}
		})
	}
	return batches
}

func (t *Throttler) executing(k chunk.Key) bool {
	_, ok := t.inExecution[k]
	return ok
}

func (t *Throttler) run(batches []func()) {
	for _, b := range batches {
		t.executor.Execute(b)
	}
}

func clampPriority(lvl int) int {
	switch {
	case lvl < 0:
		return 0
	case lvl >= PriorityLevels:
		return PriorityLevels - 1
	default:
		return lvl
	}
}
