package ticket_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

func TestType_UseFlags(t *testing.T) {
	assert.True(t, ticket.PlayerLoading.DoesLoad())
	assert.False(t, ticket.PlayerLoading.DoesSimulate())
	assert.False(t, ticket.PlayerSimulation.DoesLoad())
	assert.True(t, ticket.PlayerSimulation.DoesSimulate())
	assert.True(t, ticket.Forced.DoesLoad())
	assert.True(t, ticket.Forced.DoesSimulate())
}

func TestType_Timeouts(t *testing.T) {
	assert.False(t, ticket.Start.HasTimeout())
	assert.True(t, ticket.Portal.HasTimeout())
	assert.Equal(t, int64(300), ticket.Portal.Timeout)
	assert.Equal(t, int64(40), ticket.EnderPearl.Timeout)
	assert.Equal(t, int64(5), ticket.PostTeleport.Timeout)
	assert.Equal(t, int64(1), ticket.Unknown.Timeout)
}

func TestParseUse_RoundTrips(t *testing.T) {
	for _, u := range []ticket.Use{ticket.Loading, ticket.Simulation, ticket.LoadingAndSimulation} {
		got, err := ticket.ParseUse(u.String())
		require.NoError(t, err)
		assert.Equal(t, u, got)
	}
	_, err := ticket.ParseUse("ticking")
	assert.Error(t, err)
}

func TestNew_PanicsOnNegativeLevel(t *testing.T) {
	assert.Panics(t, func() { ticket.New(ticket.Start, -1) })
	assert.Panics(t, func() { ticket.New(nil, 3) })
}

func TestWithRadius_UsesFullLevel(t *testing.T) {
	tk := ticket.WithRadius(ticket.Portal, 2)
	assert.Equal(t, chunk.FullLevel-2, tk.Level)
	assert.Equal(t, int64(300), tk.TicksLeft)
}

func TestTicket_ExpiresAfterTimeout(t *testing.T) {
	tk := ticket.New(ticket.PostTeleport, 33)
	for i := 0; i < 5; i++ {
		tk.DecreaseTicksLeft()
		assert.False(t, tk.IsTimedOut(), "tick %d", i)
	}
	tk.DecreaseTicksLeft()
	assert.True(t, tk.IsTimedOut())

	tk.ResetTicksLeft()
	assert.False(t, tk.IsTimedOut())
}

func TestTicket_WithoutTimeoutNeverExpires(t *testing.T) {
	tk := ticket.New(ticket.Forced, 31)
	for i := 0; i < 1000; i++ {
		tk.DecreaseTicksLeft()
	}
	assert.False(t, tk.IsTimedOut())
}

func TestTicket_IdentityIgnoresTimer(t *testing.T) {
	a := ticket.New(ticket.Portal, 31)
	b := ticket.New(ticket.Portal, 31)
	b.DecreaseTicksLeft()
	assert.True(t, a.Same(b))
	assert.False(t, a.Same(ticket.New(ticket.Portal, 30)))
	assert.False(t, a.Same(ticket.New(ticket.Forced, 31)))
}

func TestTicket_String(t *testing.T) {
	assert.Equal(t, "Ticket[ender_pearl 2] with timeout 40", ticket.New(ticket.EnderPearl, 2).String())
}
