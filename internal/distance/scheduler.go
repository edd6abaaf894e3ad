// Package distance turns tickets and player positions into chunk levels. It
// owns the ticket storage and the trackers that resolve loading, simulation
// and player proximity levels, and drives the chunk lifecycle owner once per
// tick through RunAllUpdates.
package distance

import (
	"errors"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/dispatch"
)

// ErrHolderMissing reports a key that holds a player loading ticket but has
// no holder. The tick must stop when it is returned.
var ErrHolderMissing = errors.New("chunk holder missing")

// ChunkScheduler is the chunk lifecycle owner the loading tracker drives.
type ChunkScheduler interface {
	// Holder returns the holder scheduled at k, or nil.
	Holder(k chunk.Key) Holder
	// IsChunkToRemove reports whether k's holder is queued for unloading.
	IsChunkToRemove(k chunk.Key) bool
	// UpdateChunkScheduling moves k from oldLevel to newLevel, creating the
	// holder when the key becomes loaded. The returned holder, if any, must
	// report newLevel from TicketLevel and needs its futures recomputed.
	UpdateChunkScheduling(k chunk.Key, newLevel int, holder Holder, oldLevel int) Holder
}

// Holder is one chunk's lifecycle state as seen by the Manager.
// Implementations must be comparable; pointer types are.
type Holder interface {
	Pos() chunk.Pos
	// TicketLevel is the loading level the holder was last scheduled at.
	TicketLevel() int
	// UpdateHighestAllowedStatus commits the status the ticket level allows.
	UpdateHighestAllowedStatus(s ChunkScheduler)
	// UpdateFutures starts or cancels work toward the allowed status.
	UpdateFutures(s ChunkScheduler, mainThread dispatch.Executor)
	// EntityTickingFuture completes once the chunk is entity ticking.
	EntityTickingFuture() *chunk.Future[struct{}]
}
