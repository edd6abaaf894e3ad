package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

func TestKey_RoundTripsNegativeCoordinates(t *testing.T) {
	p := chunk.NewPos(-3, 7)
	assert.Equal(t, p, chunk.FromKey(p.Key()))
	assert.Equal(t, chunk.NewPos(-2, 8), p.Key().Offset(1, 1).Pos())
}

func TestKey_DistinctPositionsHaveDistinctKeys(t *testing.T) {
	assert.NotEqual(t, chunk.NewPos(1, 0).Key(), chunk.NewPos(0, 1).Key())
	assert.NotEqual(t, chunk.NewPos(-1, 0).Key(), chunk.NewPos(0, -1).Key())
}

func TestPos_String(t *testing.T) {
	assert.Equal(t, "[4, -9]", chunk.NewPos(4, -9).String())
	assert.Equal(t, "[4, -9]", chunk.NewPos(4, -9).Key().String())
}

func TestPosOfBlock_FloorsNegativeBlocks(t *testing.T) {
	assert.Equal(t, chunk.NewPos(-1, 0), chunk.PosOfBlock(-1, 15))
	assert.Equal(t, chunk.NewPos(1, -2), chunk.PosOfBlock(16, -17))
}

func TestProperty_KeyPackingIsLossless(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Int32().Draw(rt, "x")
		z := rapid.Int32().Draw(rt, "z")
		p := chunk.NewPos(x, z)
		if got := chunk.FromKey(p.Key()); got != p {
			rt.Fatalf("FromKey(Key(%v)) = %v", p, got)
		}
	})
}

func TestProperty_ChebyshevIsSymmetric(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := chunk.NewPos(rapid.Int32Range(-1000, 1000).Draw(rt, "ax"), rapid.Int32Range(-1000, 1000).Draw(rt, "az"))
		b := chunk.NewPos(rapid.Int32Range(-1000, 1000).Draw(rt, "bx"), rapid.Int32Range(-1000, 1000).Draw(rt, "bz"))
		if a.Chebyshev(b) != b.Chebyshev(a) {
			rt.Fatalf("asymmetric distance between %v and %v", a, b)
		}
		if a.Chebyshev(b) < 0 {
			rt.Fatalf("negative distance")
		}
	})
}
