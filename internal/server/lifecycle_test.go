package server

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
)

type mockService struct {
	name    string
	started atomic.Bool
	stopped atomic.Bool
	startFn func() error
	order   *stopOrder
}

type stopOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *stopOrder) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func (m *mockService) Start() error {
	m.started.Store(true)
	if m.startFn != nil {
		return m.startFn()
	}
	// Block until stopped
	for !m.stopped.Load() {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (m *mockService) Stop() {
	if m.order != nil {
		m.order.add(m.name)
	}
	m.stopped.Store(true)
}

func waitStarted(t *testing.T, svcs ...*mockService) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range svcs {
			if !s.started.Load() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "services did not start in time")
}

func TestLifecycleStartsAndStopsServicesInReverse(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), time.Second)
	order := &stopOrder{}
	svc1 := &mockService{name: "tick", order: order}
	svc2 := &mockService{name: "debug", order: order}
	lc.Add(svc1.name, svc1)
	lc.Add(svc2.name, svc2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	waitStarted(t, svc1, svc2)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	assert.True(t, svc1.stopped.Load())
	assert.True(t, svc2.stopped.Load())
	assert.Equal(t, []string{"debug", "tick"}, order.names)
}

func TestLifecycleReturnsServiceFailure(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), time.Second)
	boom := errors.New("holder missing")
	healthy := &mockService{name: "debug"}
	failing := &mockService{name: "tick", startFn: func() error { return boom }}
	lc.Add(failing.name, failing)
	lc.Add(healthy.name, healthy)

	err := lc.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "service tick")
	assert.True(t, healthy.stopped.Load())
}

func TestLifecycleStopTimeout(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	stuck := &FuncService{
		StartFn: func() error { <-release; return nil },
		StopFn:  func() { <-release },
	}
	lc.Add("stuck", stuck)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.NoError(t, lc.Run(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLifecyclePanicsOnBadArguments(t *testing.T) {
	assert.Panics(t, func() { NewLifecycle(nil, 0) })
	lc := NewLifecycle(zaptest.NewLogger(t), 0)
	assert.Panics(t, func() { lc.Add("", &mockService{}) })
	assert.Panics(t, func() { lc.Add("tick", nil) })
}

func TestFuncService(t *testing.T) {
	started := false
	stopped := false

	svc := &FuncService{
		StartFn: func() error {
			started = true
			return nil
		},
		StopFn: func() {
			stopped = true
		},
	}

	err := svc.Start()
	assert.NoError(t, err)
	assert.True(t, started)

	svc.Stop()
	assert.True(t, stopped)
}
