package ticket_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

type update struct {
	key        chunk.Key
	level      int
	decreasing bool
}

type recorder struct {
	loading    []update
	simulation []update
}

func newRecordedStorage() (*ticket.Storage, *recorder) {
	s := ticket.NewStorage()
	r := &recorder{}
	s.SetLoadingChunkUpdatedListener(func(k chunk.Key, level int, decreasing bool) {
		r.loading = append(r.loading, update{k, level, decreasing})
	})
	s.SetSimulationChunkUpdatedListener(func(k chunk.Key, level int, decreasing bool) {
		r.simulation = append(r.simulation, update{k, level, decreasing})
	})
	return s, r
}

var origin = chunk.NewPos(0, 0).Key()

func TestStorage_EmptyLevelIsUnloaded(t *testing.T) {
	s := ticket.NewStorage()
	assert.Equal(t, chunk.MaxLevel+1, s.TicketLevelAt(origin, false))
	assert.Equal(t, chunk.MaxLevel+1, s.TicketLevelAt(origin, true))
	assert.False(t, s.HasTickets())
	assert.Equal(t, "no_ticket", s.DebugString(origin, false))
}

func TestStorage_AddNotifiesOnlyImprovingCategory(t *testing.T) {
	s, r := newRecordedStorage()

	require.True(t, s.AddTicket(origin, ticket.New(ticket.PlayerLoading, 31)))
	assert.Equal(t, []update{{origin, 31, true}}, r.loading)
	assert.Empty(t, r.simulation)

	require.True(t, s.AddTicket(origin, ticket.New(ticket.PlayerLoading, 33)))
	assert.Len(t, r.loading, 1, "weaker ticket does not notify")

	require.True(t, s.AddTicket(origin, ticket.New(ticket.PlayerSimulation, 21)))
	assert.Equal(t, []update{{origin, 21, true}}, r.simulation)
	assert.Len(t, r.loading, 1)

	assert.Equal(t, 31, s.TicketLevelAt(origin, false))
	assert.Equal(t, 21, s.TicketLevelAt(origin, true))
}

func TestStorage_ReAddResetsTimer(t *testing.T) {
	s, r := newRecordedStorage()
	first := ticket.New(ticket.Portal, 31)
	require.True(t, s.AddTicket(origin, first))
	first.DecreaseTicksLeft()
	first.DecreaseTicksLeft()

	assert.False(t, s.AddTicket(origin, ticket.New(ticket.Portal, 31)))
	require.Len(t, s.Tickets(origin), 1)
	assert.Equal(t, int64(300), s.Tickets(origin)[0].TicksLeft)
	assert.Len(t, r.loading, 1)
}

func TestStorage_RemoveNotifiesWithRemainingLevel(t *testing.T) {
	s, r := newRecordedStorage()
	s.AddTicket(origin, ticket.New(ticket.Start, 22))
	s.AddTicket(origin, ticket.New(ticket.Forced, 31))
	r.loading, r.simulation = nil, nil

	assert.True(t, s.RemoveTicket(origin, ticket.New(ticket.Start, 22)))
	assert.Equal(t, []update{{origin, 31, false}}, r.loading)
	assert.Equal(t, []update{{origin, 31, false}}, r.simulation)

	assert.False(t, s.RemoveTicket(origin, ticket.New(ticket.Start, 22)))
	assert.True(t, s.RemoveTicket(origin, ticket.New(ticket.Forced, 31)))
	assert.Equal(t, chunk.MaxLevel+1, r.loading[len(r.loading)-1].level)
	assert.False(t, s.HasTickets())
}

func TestStorage_WithRadius(t *testing.T) {
	s := ticket.NewStorage()
	pos := chunk.NewPos(3, -4)
	require.True(t, s.AddTicketWithRadius(ticket.Dragon, pos, 9))
	assert.Equal(t, chunk.FullLevel-9, s.TicketLevelAt(pos.Key(), false))
	require.True(t, s.RemoveTicketWithRadius(ticket.Dragon, pos, 9))
	assert.False(t, s.HasTickets())
}

func TestStorage_ReplaceTicketLevelOfType(t *testing.T) {
	s, r := newRecordedStorage()
	a := chunk.NewPos(0, 0).Key()
	b := chunk.NewPos(5, 5).Key()
	s.AddTicket(a, ticket.New(ticket.PlayerSimulation, 21))
	s.AddTicket(b, ticket.New(ticket.PlayerSimulation, 21))
	s.AddTicket(b, ticket.New(ticket.Start, 20))
	r.simulation = nil

	s.ReplaceTicketLevelOfType(29, ticket.PlayerSimulation)

	assert.Equal(t, 29, s.TicketLevelAt(a, true))
	assert.Equal(t, 20, s.TicketLevelAt(b, true))
	assert.Equal(t, []update{{a, 29, false}}, r.simulation, "b keeps its strongest level")
	assert.Empty(t, r.loading)

	s.ReplaceTicketLevelOfType(10, ticket.PlayerSimulation)
	assert.Equal(t, 10, s.TicketLevelAt(b, true))
	assert.Contains(t, r.simulation, update{b, 10, true})
}

func TestStorage_ReplaceMergesDuplicates(t *testing.T) {
	s := ticket.NewStorage()
	s.AddTicket(origin, ticket.New(ticket.PlayerSimulation, 21))
	s.AddTicket(origin, ticket.New(ticket.PlayerSimulation, 25))
	s.ReplaceTicketLevelOfType(30, ticket.PlayerSimulation)
	require.Len(t, s.Tickets(origin), 1)
	assert.Equal(t, 30, s.Tickets(origin)[0].Level)
}

func TestStorage_PurgeStaleTickets(t *testing.T) {
	s, r := newRecordedStorage()
	s.AddTicket(origin, ticket.New(ticket.PostTeleport, 32))
	s.AddTicket(origin, ticket.New(ticket.Forced, 33))
	r.loading = nil

	for i := 0; i < 5; i++ {
		assert.Zero(t, s.PurgeStaleTickets(), "tick %d", i)
	}
	assert.Equal(t, 1, s.PurgeStaleTickets())
	assert.Equal(t, []update{{origin, 33, false}}, r.loading)
	assert.Len(t, s.Tickets(origin), 1)
}

func TestStorage_ForcedChunks(t *testing.T) {
	s := ticket.NewStorage()
	pos := chunk.NewPos(7, 7)
	require.True(t, s.UpdateChunkForced(pos, true))
	assert.False(t, s.UpdateChunkForced(pos, true))
	assert.Equal(t, []chunk.Key{pos.Key()}, s.ForceLoadedChunks())
	assert.Equal(t, chunk.EntityTickingLevel, s.TicketLevelAt(pos.Key(), true))

	require.True(t, s.UpdateChunkForced(pos, false))
	assert.Empty(t, s.ForceLoadedChunks())
}

func TestStorage_DeactivateAndActivate(t *testing.T) {
	s, r := newRecordedStorage()
	s.AddTicket(origin, ticket.New(ticket.Start, 22))
	s.AddTicket(origin, ticket.New(ticket.Unknown, 33))
	r.loading = nil

	assert.Equal(t, 1, s.DeactivateTicketsOnClosing())
	assert.Equal(t, 33, s.TicketLevelAt(origin, false))
	assert.Equal(t, []update{{origin, 33, false}}, r.loading)

	s.ActivateAllDeactivatedTickets()
	assert.Equal(t, 22, s.TicketLevelAt(origin, false))
}

func TestStorage_PersistAndRestore(t *testing.T) {
	s := ticket.NewStorage()
	s.UpdateChunkForced(chunk.NewPos(1, 2), true)
	s.AddTicket(chunk.NewPos(-3, 0).Key(), ticket.New(ticket.Portal, 30))
	s.AddTicket(chunk.NewPos(0, 0).Key(), ticket.New(ticket.Start, 22))
	assert.True(t, s.Dirty())
	s.MarkSaved()
	assert.False(t, s.Dirty())

	saved := s.Persistent()
	require.Len(t, saved, 2)
	assert.Equal(t, ticket.Persisted{Pos: chunk.NewPos(-3, 0), Type: "portal", Level: 30, TicksLeft: 300}, saved[0])
	assert.Equal(t, "forced", saved[1].Type)

	restored := ticket.NewStorage()
	n, err := restored.Restore(ticket.NewRegistry(), saved)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 30, restored.TicketLevelAt(chunk.NewPos(-3, 0).Key(), false))
	assert.Len(t, restored.ForceLoadedChunks(), 1)

	_, err = restored.Restore(ticket.NewRegistry(), []ticket.Persisted{{Type: "bogus"}})
	assert.ErrorIs(t, err, ticket.ErrUnknownType)
}

func TestStorage_DebugStringOrdersByLevel(t *testing.T) {
	s := ticket.NewStorage()
	s.AddTicket(origin, ticket.New(ticket.Start, 30))
	s.AddTicket(origin, ticket.New(ticket.Dragon, 20))
	s.AddTicket(origin, ticket.New(ticket.PlayerSimulation, 10))
	assert.Equal(t, "Ticket[dragon 20] with timeout 0, Ticket[start 30] with timeout 0", s.DebugString(origin, false))
}

func TestProperty_TicketLevelIsMinimumOfMatchingTickets(t *testing.T) {
	types := []*ticket.Type{ticket.Start, ticket.PlayerLoading, ticket.PlayerSimulation, ticket.Forced}
	rapid.Check(t, func(rt *rapid.T) {
		s := ticket.NewStorage()
		type held struct {
			typ   *ticket.Type
			level int
		}
		live := map[held]bool{}
		ops := rapid.IntRange(1, 40).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			h := held{
				typ:   types[rapid.IntRange(0, len(types)-1).Draw(rt, "type")],
				level: rapid.IntRange(0, chunk.MaxLevel).Draw(rt, "level"),
			}
			if rapid.Bool().Draw(rt, "add") {
				added := s.AddTicket(origin, ticket.New(h.typ, h.level))
				if added == live[h] {
					rt.Fatalf("AddTicket(%v) = %v with live=%v", h, added, live[h])
				}
				live[h] = true
			} else {
				removed := s.RemoveTicket(origin, ticket.New(h.typ, h.level))
				if removed != live[h] {
					rt.Fatalf("RemoveTicket(%v) = %v with live=%v", h, removed, live[h])
				}
				delete(live, h)
			}
		}
		wantLoad, wantSim := chunk.MaxLevel+1, chunk.MaxLevel+1
		for h := range live {
			if h.typ.DoesLoad() {
				wantLoad = min(wantLoad, h.level)
			}
			if h.typ.DoesSimulate() {
				wantSim = min(wantSim, h.level)
			}
		}
		if got := s.TicketLevelAt(origin, false); got != wantLoad {
			rt.Fatalf("loading level = %d, want %d", got, wantLoad)
		}
		if got := s.TicketLevelAt(origin, true); got != wantSim {
			rt.Fatalf("simulation level = %d, want %d", got, wantSim)
		}
	})
}
