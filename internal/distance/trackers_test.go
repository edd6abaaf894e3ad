package distance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/distance"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

func TestSimulationChunkTracker_DropsUntrackedKeys(t *testing.T) {
	tickets := ticket.NewStorage()
	sim := distance.NewSimulationChunkTracker(tickets)
	tickets.SetSimulationChunkUpdatedListener(sim.Update)

	k := chunk.NewPos(0, 0).Key()
	tickets.AddTicket(k, ticket.New(ticket.PlayerSimulation, 30))
	sim.RunAllUpdates()
	assert.Equal(t, 30, sim.Level(k))
	assert.Equal(t, 32, sim.Level(chunk.NewPos(2, -2).Key()))
	assert.Equal(t, distance.SimulationMaxLevel, sim.Level(chunk.NewPos(3, 0).Key()))
	assert.Equal(t, 25, sim.Tracked())

	tickets.RemoveTicket(k, ticket.New(ticket.PlayerSimulation, 30))
	sim.RunAllUpdates()
	assert.Zero(t, sim.Tracked())
}

func TestSimulationChunkTracker_IgnoresLoadingTickets(t *testing.T) {
	tickets := ticket.NewStorage()
	sim := distance.NewSimulationChunkTracker(tickets)
	tickets.SetSimulationChunkUpdatedListener(sim.Update)

	tickets.AddTicket(chunk.NewPos(0, 0).Key(), ticket.New(ticket.PlayerLoading, 20))
	sim.RunAllUpdates()
	assert.Zero(t, sim.Tracked())
}

func TestLoadingChunkTracker_SchedulesHolders(t *testing.T) {
	tickets := ticket.NewStorage()
	sched := newFakeScheduler()
	var updated []distance.Holder
	loading := distance.NewLoadingChunkTracker(tickets, sched, func(h distance.Holder) { updated = append(updated, h) })
	tickets.SetLoadingChunkUpdatedListener(loading.Update)

	k := chunk.NewPos(5, 5).Key()
	tickets.AddTicket(k, ticket.New(ticket.Start, chunk.MaxLevel))
	assert.Equal(t, 1, loading.QueueSize())

	left := loading.RunDistanceUpdates(10)
	assert.Equal(t, 9, left)
	require.Len(t, updated, 1)
	assert.Equal(t, chunk.NewPos(5, 5), updated[0].Pos())
	assert.Equal(t, chunk.MaxLevel, loading.Level(k))

	tickets.RemoveTicket(k, ticket.New(ticket.Start, chunk.MaxLevel))
	loading.RunDistanceUpdates(10)
	assert.True(t, sched.IsChunkToRemove(k))
	assert.Equal(t, chunk.UnloadedLevel, loading.Level(k))
	assert.Len(t, updated, 2)
}

func TestNewLoadingChunkTracker_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { distance.NewLoadingChunkTracker(nil, newFakeScheduler(), func(distance.Holder) {}) })
	assert.Panics(t, func() { distance.NewSimulationChunkTracker(nil) })
}
