// Package tracker implements the incremental min-fixed-point propagation
// engine that every chunk level tracker is built on.
//
// A Tracker maintains, for each key of the chunk grid,
//
//	level(k) = min(MAX, source(k), min over the 8 neighbours n of level(n) + cost)
//
// where MAX is levelCount-1. Sources change continuously; callers report each
// change with Update and the engine repairs the affected region on the next
// RunUpdates call.
package tracker

import (
	"fmt"
	"math"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

// MaxLevelCount bounds the number of levels a Tracker supports.
const MaxLevelCount = 254

// Graph supplies the per-instance behaviour of a Tracker: where source levels
// come from and how resolved levels are stored.
type Graph interface {
	// SourceLevel returns the intrinsic level of k. Any value >= MAX means k is
	// not a source.
	SourceLevel(k chunk.Key) int
	// Level returns the stored resolved level of k; untouched keys report MAX
	// or more.
	Level(k chunk.Key) int
	// SetLevel stores a resolved level. Implementations may drop keys whose
	// level is MAX to bound memory.
	SetLevel(k chunk.Key, level int)
}

// LevelChangeListener is implemented by graphs that react to committed level
// changes. OnLevelChange runs after SetLevel.
type LevelChangeListener interface {
	OnLevelChange(k chunk.Key, oldLevel, newLevel int)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEdgeCost sets the level increase between neighbouring keys.
//
// Precondition: cost >= 1.
func WithEdgeCost(cost int) Option {
	if cost < 1 {
		panic(fmt.Sprintf("tracker.WithEdgeCost: cost must be >= 1, got %d", cost))
	}
	return func(t *Tracker) { t.edgeCost = cost }
}

// Tracker is the propagation engine.
//
// Invariant: every key whose stored level differs from its recomputed level is
// queued.
//
// Concurrency: a Tracker is not safe for concurrent use; it is owned by the
// tick goroutine.
type Tracker struct {
	graph    Graph
	listener LevelChangeListener
	maxLevel int
	edgeCost int
	queue    *bucketQueue
	pending  map[chunk.Key]uint8
}

// New builds a Tracker over levels [0, levelCount-1].
//
// Precondition: 2 <= levelCount < MaxLevelCount; g must be non-nil.
// Postcondition: Returns a Tracker with no queued work.
func New(g Graph, levelCount, capacityHint int, opts ...Option) *Tracker {
	if g == nil {
		panic("tracker.New: graph must not be nil")
	}
	if levelCount < 2 || levelCount >= MaxLevelCount {
		panic(fmt.Sprintf("tracker.New: level count must be in [2, %d), got %d", MaxLevelCount, levelCount))
	}
	t := &Tracker{
		graph:    g,
		maxLevel: levelCount - 1,
		edgeCost: 1,
		queue:    newBucketQueue(levelCount),
		pending:  make(map[chunk.Key]uint8, capacityHint),
	}
	if l, ok := g.(LevelChangeListener); ok {
		t.listener = l
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxLevel returns the level that means "untracked".
func (t *Tracker) MaxLevel() int {
	return t.maxLevel
}

// Level returns the resolved level of k, MaxLevel if k was never reached.
func (t *Tracker) Level(k chunk.Key) int {
	return t.clamp(t.graph.Level(k))
}

// Update reports that the source level of k has changed to level. The graph's
// SourceLevel must already reflect the change. decreasing marks the change as
// an improvement, which lets the engine skip the neighbour scan.
//
// Precondition: level >= 0.
// Postcondition: k is queued when its resolved level may change.
func (t *Tracker) Update(k chunk.Key, level int, decreasing bool) {
	if level < 0 {
		panic(fmt.Sprintf("tracker.Update: negative level %d at %s", level, k))
	}
	cur := t.Level(k)
	if decreasing && t.clamp(level) < cur {
		t.schedule(k, t.clamp(level))
		return
	}
	if target := t.recompute(k); target != cur {
		t.schedule(k, min(cur, target))
	}
}

// HasWork reports whether any key is queued.
func (t *Tracker) HasWork() bool {
	return len(t.pending) > 0
}

// QueueSize returns the number of queued keys.
func (t *Tracker) QueueSize() int {
	return len(t.pending)
}

// RunAllUpdates runs the engine to its fixed point.
func (t *Tracker) RunAllUpdates() {
	t.RunUpdates(math.MaxInt)
}

// RunUpdates processes at most budget queued keys, lowest priority first, and
// returns the unspent budget. Slicing the work into several calls yields the
// same final state as a single unbounded call.
//
// Precondition: budget >= 0.
// Postcondition: Returns a value in [0, budget]; when it is > 0 the queue is empty.
func (t *Tracker) RunUpdates(budget int) int {
	if budget < 0 {
		panic(fmt.Sprintf("tracker.RunUpdates: negative budget %d", budget))
	}
	for budget > 0 && len(t.pending) > 0 {
		k, prio, ok := t.queue.pop()
		if !ok {
			break
		}
		if p, queued := t.pending[k]; !queued || int(p) != prio {
			continue
		}
		budget--
		delete(t.pending, k)
		t.process(k, prio)
	}
	if len(t.pending) == 0 {
		t.queue.clear()
	}
	return budget
}

func (t *Tracker) process(k chunk.Key, prio int) {
	cur := t.Level(k)
	target := t.recompute(k)
	switch {
	case target == cur:
	case min(cur, target) > prio:
		t.schedule(k, min(cur, target))
	case target < cur:
		t.commit(k, cur, target)
		reach := target + t.edgeCost
		forEachNeighbour(k, func(n chunk.Key) {
			if t.Level(n) > reach {
				t.schedule(n, reach)
			}
		})
	default:
		// The key lost the support it had at cur. Invalidate it, let dependent
		// neighbours re-derive, then re-derive the key itself at its new level.
		t.commit(k, cur, t.maxLevel)
		dependent := cur + t.edgeCost
		forEachNeighbour(k, func(n chunk.Key) {
			if ln := t.Level(n); ln < t.maxLevel && ln == dependent {
				t.schedule(n, ln)
			}
		})
		if target < t.maxLevel {
			t.schedule(k, target)
		}
	}
}

func (t *Tracker) commit(k chunk.Key, oldLevel, newLevel int) {
	t.graph.SetLevel(k, newLevel)
	if t.listener != nil {
		t.listener.OnLevelChange(k, oldLevel, newLevel)
	}
}

func (t *Tracker) schedule(k chunk.Key, prio int) {
	if p, queued := t.pending[k]; queued && int(p) <= prio {
		return
	}
	t.pending[k] = uint8(prio)
	t.queue.push(k, prio)
}

// recompute derives the level k should have from its own source and the
// current levels of its neighbours.
func (t *Tracker) recompute(k chunk.Key) int {
	best := t.clamp(t.graph.SourceLevel(k))
	if best <= t.edgeCost {
		return best
	}
	p := k.Pos()
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			if dx == 0 && dz == 0 {
				continue
			}
			if c := t.Level(p.Offset(dx, dz).Key()) + t.edgeCost; c < best {
				best = c
				if best <= t.edgeCost {
					return best
				}
			}
		}
	}
	return best
}

func (t *Tracker) clamp(level int) int {
	switch {
	case level < 0:
		return 0
	case level > t.maxLevel:
		return t.maxLevel
	default:
		return level
	}
}

func forEachNeighbour(k chunk.Key, fn func(chunk.Key)) {
	p := k.Pos()
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			if dx != 0 || dz != 0 {
				fn(p.Offset(dx, dz).Key())
			}
		}
	}
}
