package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

func TestStorage_RemoveTicketClearsBackingSlot(t *testing.T) {
	s := NewStorage()
	k := chunk.NewPos(2, 3).Key()
	for _, tk := range []*Ticket{New(Start, 20), New(Dragon, 25), New(Portal, 30)} {
		require.True(t, s.AddTicket(k, tk))
	}
	backing := s.tickets[k]
	require.Len(t, backing, 3)

	require.True(t, s.RemoveTicket(k, New(Dragon, 25)))
	require.Len(t, s.tickets[k], 2)
	assert.Nil(t, backing[2], "removed ticket retained by the backing array")
	assert.False(t, s.HasTicketOfType(k, Dragon))

	require.True(t, s.RemoveTicket(k, New(Start, 20)))
	require.True(t, s.RemoveTicket(k, New(Portal, 30)))
	assert.NotContains(t, s.tickets, k)
	assert.Nil(t, backing[0])
}
