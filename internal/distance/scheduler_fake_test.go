package distance_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/dispatch"
	"github.com/cory-johannsen/chunkmap/internal/distance"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

type fakeHolder struct {
	pos           chunk.Pos
	level         int
	allowed       chunk.FullStatus
	entityTicking *chunk.Future[struct{}]
	statusCalls   int
	futureCalls   int
	auto          *bool
}

func (h *fakeHolder) Pos() chunk.Pos   { return h.pos }
func (h *fakeHolder) TicketLevel() int { return h.level }

func (h *fakeHolder) UpdateHighestAllowedStatus(distance.ChunkScheduler) {
	h.allowed = chunk.FullStatusOf(h.level)
	h.statusCalls++
}

func (h *fakeHolder) UpdateFutures(distance.ChunkScheduler, dispatch.Executor) {
	h.futureCalls++
	if *h.auto && h.allowed.IsOrAfter(chunk.EntityTicking) {
		h.entityTicking.Complete(struct{}{}, nil)
	}
}

func (h *fakeHolder) EntityTickingFuture() *chunk.Future[struct{}] {
	return h.entityTicking
}

// fakeScheduler schedules holders the way the chunk map does, without
// loading anything. Entity ticking futures complete on UpdateFutures while
// autoComplete is set.
type fakeScheduler struct {
	holders      map[chunk.Key]*fakeHolder
	toDrop       map[chunk.Key]struct{}
	created      map[chunk.Key]int
	dropped      map[chunk.Key]int
	autoComplete bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		holders:      make(map[chunk.Key]*fakeHolder),
		toDrop:       make(map[chunk.Key]struct{}),
		created:      make(map[chunk.Key]int),
		dropped:      make(map[chunk.Key]int),
		autoComplete: true,
	}
}

func (s *fakeScheduler) Holder(k chunk.Key) distance.Holder {
	if h, ok := s.holders[k]; ok {
		return h
	}
	return nil
}

func (s *fakeScheduler) IsChunkToRemove(k chunk.Key) bool {
	_, ok := s.toDrop[k]
	return ok
}

func (s *fakeScheduler) UpdateChunkScheduling(k chunk.Key, newLevel int, holder distance.Holder, oldLevel int) distance.Holder {
	if !chunk.IsLoaded(oldLevel) && !chunk.IsLoaded(newLevel) {
		return holder
	}
	var h *fakeHolder
	if holder != nil {
		h = holder.(*fakeHolder)
		h.level = newLevel
		if chunk.IsLoaded(newLevel) {
			delete(s.toDrop, k)
		} else {
			s.toDrop[k] = struct{}{}
		}
	}
	if h == nil {
		h = &fakeHolder{pos: k.Pos(), level: newLevel, entityTicking: chunk.NewFuture[struct{}](), auto: &s.autoComplete}
		s.holders[k] = h
		s.created[k]++
	}
	return h
}

func (s *fakeScheduler) completeAll() {
	for _, h := range s.holders {
		if chunk.IsEntityTicking(h.level) {
			h.entityTicking.Complete(struct{}{}, nil)
		}
	}
}

func (s *fakeScheduler) processUnloads() int {
	n := 0
	for k := range s.toDrop {
		if h := s.holders[k]; h != nil && !chunk.IsLoaded(h.level) {
			delete(s.holders, k)
			s.dropped[k]++
			n++
		}
	}
	clear(s.toDrop)
	return n
}

type harness struct {
	m     *distance.Manager
	sched *fakeScheduler
	main  *dispatch.MainThread
}

func newHarness(t *testing.T, opts distance.Options) *harness {
	h := &harness{sched: newFakeScheduler(), main: dispatch.NewMainThread()}
	opts.Scheduler = h.sched
	opts.MainThread = h.main
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	h.m = distance.NewManager(opts)
	return h
}

type testingT interface {
	require.TestingT
	Helper()
}

// settle ticks until neither the manager nor the mailbox has work left.
func (h *harness) settle(t testingT) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		worked, err := h.m.RunAllUpdates(h.sched)
		require.NoError(t, err)
		ran := h.main.RunPending()
		if !worked && ran == 0 {
			return
		}
	}
	t.Errorf("manager did not settle")
	t.FailNow()
}

// tick runs the manager and the mailbox, then unloads the way the world does
// once the loading tracker has drained. Every unloaded key must have lost all
// loading tickets within range.
func (h *harness) tick(t testingT) bool {
	t.Helper()
	worked, err := h.m.RunAllUpdates(h.sched)
	require.NoError(t, err)
	ran := h.main.RunPending()
	if h.m.HasLoadingWork() {
		return worked || ran > 0
	}
	for k := range h.sched.toDrop {
		if holder := h.sched.holders[k]; holder != nil && !chunk.IsLoaded(holder.level) {
			require.False(t, chunk.IsLoaded(ticketLevelFromScratch(h.m.Tickets(), k)), "chunk %s unloaded while a ticket keeps it loaded", k)
		}
	}
	dropped := h.sched.processUnloads()
	return worked || ran > 0 || dropped > 0
}

// settleUnloading ticks until the manager, the mailbox and the unloads are
// all idle.
func (h *harness) settleUnloading(t testingT) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if !h.tick(t) {
			return
		}
	}
	t.Errorf("manager did not settle")
	t.FailNow()
}

// ticketLevelFromScratch derives the loading level of k directly from every
// ticket held.
func ticketLevelFromScratch(tickets *ticket.Storage, k chunk.Key) int {
	best := chunk.UnloadedLevel
	for _, src := range tickets.Keys() {
		l := tickets.TicketLevelAt(src, false) + k.Pos().Chebyshev(src.Pos())
		best = min(best, l)
	}
	return best
}
