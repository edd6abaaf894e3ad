package tracker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
	"github.com/cory-johannsen/chunkmap/internal/tracker"
)

func TestByteLevels_DropsAtThreshold(t *testing.T) {
	b := tracker.NewByteLevels(9, 10, 0)
	k := chunk.NewPos(1, 2).Key()

	assert.Equal(t, 10, b.Get(k))
	assert.Equal(t, 10, b.Set(k, 3))
	assert.True(t, b.Contains(k))
	assert.Equal(t, 3, b.Set(k, 9))
	assert.False(t, b.Contains(k))
	assert.Equal(t, 10, b.Get(k))
	assert.Zero(t, b.Len())
}

func TestByteLevels_RangeAndKeys(t *testing.T) {
	b := tracker.NewByteLevels(5, 5, 0)
	b.Set(chunk.NewPos(0, 0).Key(), 0)
	b.Set(chunk.NewPos(0, 1).Key(), 1)
	assert.ElementsMatch(t, []chunk.Key{chunk.NewPos(0, 0).Key(), chunk.NewPos(0, 1).Key()}, b.Keys())

	seen := 0
	b.Range(func(chunk.Key, int) bool { seen++; return false })
	assert.Equal(t, 1, seen)
}

func TestByteLevels_InvalidThresholdsPanic(t *testing.T) {
	assert.Panics(t, func() { tracker.NewByteLevels(0, 1, 0) })
	assert.Panics(t, func() { tracker.NewByteLevels(5, 4, 0) })
	assert.Panics(t, func() { tracker.NewByteLevels(5, 256, 0) })
}
