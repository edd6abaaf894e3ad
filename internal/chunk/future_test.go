package chunk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/chunkmap/internal/chunk"
)

func TestFuture_ThenRunsOnCompletion(t *testing.T) {
	f := chunk.NewFuture[int]()
	var got []int
	f.Then(func(v int, err error) { got = append(got, v) })
	assert.Empty(t, got)

	assert.True(t, f.Complete(7, nil))
	assert.Equal(t, []int{7}, got)

	f.Then(func(v int, err error) { got = append(got, v*2) })
	assert.Equal(t, []int{7, 14}, got)
}

func TestFuture_SecondCompleteIgnored(t *testing.T) {
	f := chunk.NewFuture[string]()
	require.True(t, f.Complete("a", nil))
	assert.False(t, f.Complete("b", errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := chunk.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsDone())
}

func TestCompletedFuture(t *testing.T) {
	f := chunk.CompletedFuture(3)
	assert.True(t, f.IsDone())
	select {
	case <-f.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
