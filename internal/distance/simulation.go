package distance

import (
	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
	"github.com/cory-johannsen/chunkmap/internal/tracker"
)

// SimulationMaxLevel is the simulation tracker's untracked level.
const SimulationMaxLevel = chunk.FullLevel

// SimulationChunkTracker resolves simulation levels from the simulation
// tickets, independent of how far loading extends.
type SimulationChunkTracker struct {
	*tracker.Tracker
	tickets *ticket.Storage
	levels  *tracker.ByteLevels
}

// NewSimulationChunkTracker returns a tracker over [0, SimulationMaxLevel].
func NewSimulationChunkTracker(tickets *ticket.Storage) *SimulationChunkTracker {
	if tickets == nil {
		panic("distance.NewSimulationChunkTracker: tickets must not be nil")
	}
	s := &SimulationChunkTracker{
		tickets: tickets,
		levels:  tracker.NewByteLevels(SimulationMaxLevel, SimulationMaxLevel, 256),
	}
	s.Tracker = tracker.New(s, SimulationMaxLevel+1, 256)
	return s
}

// SourceLevel implements tracker.Graph.
func (s *SimulationChunkTracker) SourceLevel(k chunk.Key) int {
	return s.tickets.TicketLevelAt(k, true)
}

// Level returns the resolved simulation level of k.
func (s *SimulationChunkTracker) Level(k chunk.Key) int {
	return s.levels.Get(k)
}

// SetLevel implements tracker.Graph. Keys reaching SimulationMaxLevel are
// dropped.
func (s *SimulationChunkTracker) SetLevel(k chunk.Key, level int) {
	s.levels.Set(k, level)
}

// Tracked returns the number of keys below SimulationMaxLevel.
func (s *SimulationChunkTracker) Tracked() int {
	return s.levels.Len()
}

// Range visits every key below SimulationMaxLevel until fn returns false.
func (s *SimulationChunkTracker) Range(fn func(k chunk.Key, level int) bool) {
	s.levels.Range(fn)
}
