package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/storage/postgres"
	"github.com/cory-johannsen/chunkmap/internal/testutil"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

func newRepo(t *testing.T) *postgres.TicketRepository {
	t.Helper()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewTicketRepository(pc.RawPool)
}

func TestTicketRepository_NeverSaved(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.LoadTickets(context.Background(), "overworld")
	assert.ErrorIs(t, err, postgres.ErrTicketsNotFound)
	assert.ErrorIs(t, err, ticket.ErrNoSavedTickets)
}

func TestTicketRepository_SaveReplacesAndLoadsOrdered(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first := []ticket.Persisted{
		{Pos: chunk.NewPos(4, 1), Type: "portal", Level: 33, TicksLeft: 120},
		{Pos: chunk.NewPos(-2, 7), Type: "forced", Level: 31},
	}
	require.NoError(t, repo.SaveTickets(ctx, "overworld", first))
	require.NoError(t, repo.SaveTickets(ctx, "nether", first[:1]))

	got, err := repo.LoadTickets(ctx, "overworld")
	require.NoError(t, err)
	assert.Equal(t, []ticket.Persisted{first[1], first[0]}, got)

	require.NoError(t, repo.SaveTickets(ctx, "overworld", nil))
	got, err = repo.LoadTickets(ctx, "overworld")
	require.NoError(t, err)
	assert.Empty(t, got, "an empty save is still a save")

	got, err = repo.LoadTickets(ctx, "nether")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, repo.DeleteWorld(ctx, "nether"))
	_, err = repo.LoadTickets(ctx, "nether")
	assert.ErrorIs(t, err, postgres.ErrTicketsNotFound)
}

func TestTicketRepository_RejectsEmptyWorld(t *testing.T) {
	repo := newRepo(t)
	assert.Error(t, repo.SaveTickets(context.Background(), "", nil))
}

// Property: whatever the storage persists round-trips through the repository.
func TestTicketRepository_PropertyStorageRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	reg := ticket.NewRegistry()

	rapid.Check(t, func(rt *rapid.T) {
		s := ticket.NewStorage()
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			p := chunk.NewPos(
				int32(rapid.IntRange(-50, 50).Draw(rt, "x")),
				int32(rapid.IntRange(-50, 50).Draw(rt, "z")),
			)
			typ := rapid.SampledFrom([]*ticket.Type{ticket.Forced, ticket.Portal}).Draw(rt, "type")
			s.AddTicket(p.Key(), ticket.New(typ, rapid.IntRange(0, chunk.MaxLevel).Draw(rt, "level")))
		}
		saved := s.Persistent()
		require.NoError(rt, repo.SaveTickets(ctx, "prop", saved))
		loaded, err := repo.LoadTickets(ctx, "prop")
		require.NoError(rt, err)

		restored := ticket.NewStorage()
		_, err = restored.Restore(reg, loaded)
		require.NoError(rt, err)
		assert.Equal(rt, saved, restored.Persistent())
	})
}
