package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/imgingest/internal/domain"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestPool_HandlesEveryItem(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 4, QueueDepth: 8}, quietLogger())

	var mu sync.Mutex
	seen := make(map[int]bool)
	pool.Start(context.Background(), func(ctx context.Context, item domain.WorkItem) error {
		mu.Lock()
		seen[item.Index] = true
		mu.Unlock()
		return nil
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{JobID: "j", Index: i}))
	}
	pool.Close()

	assert.Len(t, seen, 50)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(PoolOptions{Workers: workers, QueueDepth: 20}, quietLogger())

	var active, peak atomic.Int32
	pool.Start(context.Background(), func(ctx context.Context, item domain.WorkItem) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{Index: i}))
	}
	pool.Close()

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Positive(t, peak.Load())
}

func TestPool_RejectWhenFull(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 1, QueueDepth: 1, RejectWhenFull: true}, quietLogger())

	require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{Index: 0}))
	err := pool.Dispatch(context.Background(), domain.WorkItem{Index: 1})
	assert.ErrorIs(t, err, ErrPoolSaturated)
	assert.Equal(t, 1, pool.Pending())
}

func TestPool_BlocksUntilContextDone(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 1, QueueDepth: 1}, quietLogger())
	require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{Index: 0}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Dispatch(ctx, domain.WorkItem{Index: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_HandlerErrorsDoNotStopPool(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 2, QueueDepth: 4}, quietLogger())

	var handled atomic.Int32
	pool.Start(context.Background(), func(ctx context.Context, item domain.WorkItem) error {
		handled.Add(1)
		return errors.New("boom")
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{Index: i}))
	}
	pool.Close()

	assert.Equal(t, int32(5), handled.Load())
}

func TestPool_DispatchAfterClose(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 1, QueueDepth: 1}, quietLogger())
	pool.Start(context.Background(), func(ctx context.Context, item domain.WorkItem) error { return nil })
	pool.Close()
	pool.Close()

	err := pool.Dispatch(context.Background(), domain.WorkItem{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_RetriesFailedItems(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 2, QueueDepth: 4, MaxRetries: 2, RetryBackoff: time.Millisecond}, quietLogger())

	var mu sync.Mutex
	calls := make(map[int]int)
	pool.Start(context.Background(), func(ctx context.Context, item domain.WorkItem) error {
		mu.Lock()
		defer mu.Unlock()
		calls[item.Index]++
		if calls[item.Index] == 1 {
			return errors.New("store unavailable")
		}
		return nil
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{Index: i}))
	}
	pool.Close()

	assert.Equal(t, map[int]int{0: 2, 1: 2, 2: 2}, calls)
}

func TestPool_GivesUpAfterMaxRetries(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		want    int32
	}{
		{"no retries", 0, 1},
		{"three retries", 3, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(PoolOptions{Workers: 1, QueueDepth: 1, MaxRetries: tt.retries, RetryBackoff: time.Millisecond}, quietLogger())

			var calls atomic.Int32
			pool.Start(context.Background(), func(ctx context.Context, item domain.WorkItem) error {
				calls.Add(1)
				return errors.New("boom")
			})
			require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{}))
			pool.Close()

			assert.Equal(t, tt.want, calls.Load())
		})
	}
}

func TestPool_RetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(PoolOptions{Workers: 1, QueueDepth: 1, MaxRetries: 5, RetryBackoff: time.Hour}, quietLogger())

	var calls atomic.Int32
	pool.Start(ctx, func(ctx context.Context, item domain.WorkItem) error {
		calls.Add(1)
		cancel()
		return errors.New("boom")
	})
	require.NoError(t, pool.Dispatch(context.Background(), domain.WorkItem{}))
	pool.Close()

	assert.Equal(t, int32(1), calls.Load())
}
