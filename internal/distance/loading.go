package distance

import (
	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
	"github.com/cory-johannsen/chunkmap/internal/tracker"
)

// LoadingChunkTracker resolves the loading level of every key from the
// loading tickets. Resolved levels live on the holders of the chunk
// scheduler; committing a level reschedules the holder.
type LoadingChunkTracker struct {
	*tracker.Tracker
	tickets   *ticket.Storage
	scheduler ChunkScheduler
	updated   func(Holder)
}

// NewLoadingChunkTracker returns a tracker over [0, chunk.MaxLevel+1]. Every
// holder returned by the scheduler is passed to updated.
//
// Precondition: tickets, scheduler and updated must be non-nil.
func NewLoadingChunkTracker(tickets *ticket.Storage, scheduler ChunkScheduler, updated func(Holder)) *LoadingChunkTracker {
	if tickets == nil || scheduler == nil || updated == nil {
		panic("distance.NewLoadingChunkTracker: tickets, scheduler and updated must be non-nil")
	}
	l := &LoadingChunkTracker{tickets: tickets, scheduler: scheduler, updated: updated}
	l.Tracker = tracker.New(l, chunk.MaxLevel+2, 256)
	return l
}

// SourceLevel implements tracker.Graph.
func (l *LoadingChunkTracker) SourceLevel(k chunk.Key) int {
	return l.tickets.TicketLevelAt(k, false)
}

// Level returns the holder's ticket level, or chunk.UnloadedLevel when k has
// no holder or is about to be dropped.
func (l *LoadingChunkTracker) Level(k chunk.Key) int {
	if !l.scheduler.IsChunkToRemove(k) {
		if h := l.scheduler.Holder(k); h != nil {
			return h.TicketLevel()
		}
	}
	return chunk.UnloadedLevel
}

// SetLevel implements tracker.Graph.
func (l *LoadingChunkTracker) SetLevel(k chunk.Key, level int) {
	h := l.scheduler.Holder(k)
	old := chunk.UnloadedLevel
	if h != nil {
		old = h.TicketLevel()
	}
	if old == level {
		return
	}
	if h = l.scheduler.UpdateChunkScheduling(k, level, h, old); h != nil {
		l.updated(h)
	}
}

// RunDistanceUpdates spends at most budget steps and returns what is left.
func (l *LoadingChunkTracker) RunDistanceUpdates(budget int) int {
	return l.RunUpdates(budget)
}
