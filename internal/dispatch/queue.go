// Package dispatch paces chunk work: a per-key priority queue, a throttler
// that bounds how many keys are in execution at once, and the executors the
// throttled work runs on.
package dispatch

import (
	"fmt"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

// PriorityLevels is the number of priorities a PriorityQueue holds. Level
// chunk.MaxLevel+1 is the "not loaded" priority.
const PriorityLevels = chunk.MaxLevel + 2

type keyTasks struct {
	seq   uint64
	tasks []func()
}

type ordered struct {
	key chunk.Key
	seq uint64
}

// level is one priority bucket. Keys leave order lazily; an entry is live
// while byKey holds the same sequence number.
type level struct {
	order []ordered
	head  int
	byKey map[chunk.Key]*keyTasks
}

func (l *level) add(k chunk.Key, tasks []func(), seq uint64) {
	if e, ok := l.byKey[k]; ok {
		e.tasks = append(e.tasks, tasks...)
		return
	}
	l.byKey[k] = &keyTasks{seq: seq, tasks: tasks}
	l.order = append(l.order, ordered{key: k, seq: seq})
}

func (l *level) remove(k chunk.Key) []func() {
	e, ok := l.byKey[k]
	if !ok {
		return nil
	}
	delete(l.byKey, k)
	if len(l.byKey) == 0 {
		l.order = l.order[:0]
		l.head = 0
	}
	return e.tasks
}

func (l *level) popFirst(skip func(chunk.Key) bool) (chunk.Key, []func(), bool) {
	for i := l.head; i < len(l.order); i++ {
		o := l.order[i]
		e, ok := l.byKey[o.key]
		if !ok || e.seq != o.seq {
			if i == l.head {
				l.head++
			}
			continue
		}
		if skip != nil && skip(o.key) {
			continue
		}
		if i == l.head {
			l.head++
		}
		delete(l.byKey, o.key)
		if len(l.byKey) == 0 {
			l.order = l.order[:0]
			l.head = 0
		}
		return o.key, e.tasks, true
	}
	return 0, nil, false
}

// PriorityQueue orders per-key task lists by priority level, then by the
// order keys entered their level.
//
// Concurrency: PriorityQueue is not safe for concurrent use; Throttler
// serializes access to it.
type PriorityQueue struct {
	levels []level
	first  int
	seq    uint64
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{levels: make([]level, PriorityLevels), first: PriorityLevels}
	for i := range q.levels {
		q.levels[i].byKey = make(map[chunk.Key]*keyTasks)
	}
	return q
}

// Submit appends task to k's list at priority lvl.
//
// Precondition: 0 <= lvl < PriorityLevels.
func (q *PriorityQueue) Submit(task func(), k chunk.Key, lvl int) {
	checkLevel("dispatch.PriorityQueue.Submit", lvl)
	q.seq++
	q.levels[lvl].add(k, []func(){task}, q.seq)
	q.first = min(q.first, lvl)
}

// Resort moves k's tasks from priority oldLevel to newLevel, appending them
// after any tasks k already has there.
func (q *PriorityQueue) Resort(k chunk.Key, oldLevel, newLevel int) {
	if oldLevel < 0 || oldLevel >= PriorityLevels {
		return
	}
	checkLevel("dispatch.PriorityQueue.Resort", newLevel)
	tasks := q.levels[oldLevel].remove(k)
	if oldLevel == q.first {
		q.advance()
	}
	if len(tasks) == 0 {
		return
	}
	q.seq++
	q.levels[newLevel].add(k, tasks, q.seq)
	q.first = min(q.first, newLevel)
}

// Release drops every queued task of k when fullClear is set. Without
// fullClear the queue is left untouched.
func (q *PriorityQueue) Release(k chunk.Key, fullClear bool) {
	if !fullClear {
		return
	}
	for i := range q.levels {
		q.levels[i].remove(k)
	}
	q.advance()
}

// Pop removes and returns the first key of the lowest non-empty priority
// together with its tasks.
func (q *PriorityQueue) Pop() (chunk.Key, []func(), bool) {
	return q.PopEligible(nil)
}

// PopEligible is Pop over the keys for which skip returns false. Skipped keys
// keep their place.
func (q *PriorityQueue) PopEligible(skip func(chunk.Key) bool) (chunk.Key, []func(), bool) {
	q.advance()
	for i := q.first; i < PriorityLevels; i++ {
		if len(q.levels[i].byKey) == 0 {
			continue
		}
		if k, tasks, ok := q.levels[i].popFirst(skip); ok {
			q.advance()
			return k, tasks, true
		}
	}
	return 0, nil, false
}

// HasWork reports whether any task is queued.
func (q *PriorityQueue) HasWork() bool {
	q.advance()
	return q.first < PriorityLevels
}

// Contains reports whether k has queued tasks at any priority.
func (q *PriorityQueue) Contains(k chunk.Key) bool {
	for i := range q.levels {
		if _, ok := q.levels[i].byKey[k]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of queued keys over all priorities.
func (q *PriorityQueue) Len() int {
	n := 0
	for i := range q.levels {
		n += len(q.levels[i].byKey)
	}
	return n
}

// Keys returns the queued keys in pop order.
func (q *PriorityQueue) Keys() []chunk.Key {
	var out []chunk.Key
	for i := range q.levels {
		l := &q.levels[i]
		for _, o := range l.order[l.head:] {
			if e, ok := l.byKey[o.key]; ok && e.seq == o.seq {
				out = append(out, o.key)
			}
		}
	}
	return out
}

func (q *PriorityQueue) advance() {
	for q.first < PriorityLevels && len(q.levels[q.first].byKey) == 0 {
		q.first++
	}
}

func checkLevel(fn string, lvl int) {
	if lvl < 0 || lvl >= PriorityLevels {
		panic(fmt.Sprintf("%s: priority %d out of range [0, %d)", fn, lvl, PriorityLevels))
	}
}
