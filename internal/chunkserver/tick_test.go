package chunkserver_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/chunkmap/internal/chunkserver"
)

func TestTickLoop_StopsOnCancel(t *testing.T) {
	loop := chunkserver.NewTickLoop(10*time.Millisecond, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tick loop did not stop")
	}
}

func TestTickLoop_PhasesRunInOrder(t *testing.T) {
	loop := chunkserver.NewTickLoop(5*time.Millisecond, zaptest.NewLogger(t))
	var mu sync.Mutex
	var seen []string
	record := func(name string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name)
			return nil
		}
	}
	loop.RegisterPhase("mailbox", record("mailbox"))
	loop.RegisterPhase("distance", record("distance"))
	loop.RegisterPhase("mailbox", record("mailbox2"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	require.Eventually(t, func() bool { return loop.Ticks() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 4)
	assert.Equal(t, []string{"mailbox2", "distance", "mailbox2", "distance"}, seen[:4])
}

func TestTickLoop_PhaseErrorStopsLoop(t *testing.T) {
	loop := chunkserver.NewTickLoop(5*time.Millisecond, zaptest.NewLogger(t))
	boom := errors.New("holder missing")
	var calls atomic.Int64
	loop.RegisterPhase("distance", func() error {
		if calls.Add(1) == 3 {
			return boom
		}
		return nil
	})

	err := loop.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "tick 3 phase distance")
	assert.EqualValues(t, 2, loop.Ticks())
}

func TestTickLoop_UnregisterStopsPhase(t *testing.T) {
	loop := chunkserver.NewTickLoop(5*time.Millisecond, zaptest.NewLogger(t))
	var count atomic.Int64
	loop.RegisterPhase("z1", func() error { count.Add(1); return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	require.Eventually(t, func() bool { return count.Load() > 0 }, time.Second, 5*time.Millisecond)
	loop.Unregister("z1")
	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, count.Load(), after+1)
}

func TestNewTickLoop_PanicsOnBadInterval(t *testing.T) {
	assert.Panics(t, func() { chunkserver.NewTickLoop(0, nil) })
}
