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

// blockingService runs until its start context ends or Stop is called.
type blockingService struct {
	started atomic.Bool
	stopped chan struct{}
	once    sync.Once
	order   *[]string
	mu      *sync.Mutex
	name    string
}

func newBlocking(name string, order *[]string, mu *sync.Mutex) *blockingService {
	return &blockingService{stopped: make(chan struct{}), order: order, mu: mu, name: name}
}

func (b *blockingService) Start(ctx context.Context) error {
	b.started.Store(true)
	select {
	case <-ctx.Done():
	case <-b.stopped:
	}
	return nil
}

func (b *blockingService) Stop(context.Context) error {
	b.once.Do(func() { close(b.stopped) })
	b.mu.Lock()
	*b.order = append(*b.order, b.name)
	b.mu.Unlock()
	return nil
}

func TestRun_StopsInReverseOrderOnCancel(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	lc := NewLifecycle(zaptest.NewLogger(t), time.Second)
	first, second := newBlocking("first", &order, &mu), newBlocking("second", &order, &mu)
	lc.Add("first", first)
	lc.Add("second", second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	require.Eventually(t, func() bool { return first.started.Load() && second.started.Load() }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not stop")
	}
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestRun_ServiceFailureStopsEverything(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	lc := NewLifecycle(zaptest.NewLogger(t), time.Second)
	healthy := newBlocking("healthy", &order, &mu)
	boom := errors.New("listen: address in use")
	lc.Add("healthy", healthy)
	lc.Add("broken", &FuncService{StartFn: func(context.Context) error { return boom }})

	err := lc.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "service broken")
	assert.Equal(t, []string{"healthy"}, order)
}

func TestRun_CollectsStopErrors(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), 50*time.Millisecond)
	stuck := errors.New("drain timed out")
	lc.Add("stuck", &FuncService{
		StartFn: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
		StopFn: func(ctx context.Context) error {
			<-ctx.Done()
			return stuck
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := lc.Run(ctx)
	require.ErrorIs(t, err, stuck)
	assert.Contains(t, err.Error(), "stopping stuck")
}

func TestFuncService_NilStop(t *testing.T) {
	f := &FuncService{StartFn: func(context.Context) error { return nil }}
	assert.NoError(t, f.Stop(context.Background()))
}
