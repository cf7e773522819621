package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(maxConcurrent, maxQueue int) *Limiter {
	return New(maxConcurrent, maxQueue, zap.NewNop(), nil)
}

func TestAcquire_UnderCapacity(t *testing.T) {
	l := newTestLimiter(2, 2)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)

	stats := l.Stats()
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 0.5, stats.Utilization)

	release()
	assert.Equal(t, 0, l.Stats().InFlight)
}

func TestAcquire_QueueFullRejectsSynchronously(t *testing.T) {
	l := newTestLimiter(1, 1)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)

	// fill the queue
	queued := make(chan struct{})
	go func() {
		rel, err := l.Acquire(context.Background())
		assert.NoError(t, err)
		rel()
		close(queued)
	}()

	require.Eventually(t, func() bool {
		return l.Stats().Queued == 1
	}, time.Second, time.Millisecond)

	before := l.Stats()
	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)

	// rejection mutates nothing
	after := l.Stats()
	assert.Equal(t, before.InFlight, after.InFlight)
	assert.Equal(t, before.Queued, after.Queued)

	release()
	<-queued
}

func TestExecute_FIFOPromotion(t *testing.T) {
	const n = 2
	const k = 4
	l := newTestLimiter(n, k)

	// saturate the limiter
	releases := make([]func(), n)
	for i := 0; i < n; i++ {
		rel, err := l.Acquire(context.Background())
		require.NoError(t, err)
		releases[i] = rel
	}

	var mu sync.Mutex
	var order []int
	var started sync.WaitGroup
	var finished sync.WaitGroup

	for i := 0; i < k; i++ {
		i := i
		started.Add(1)
		finished.Add(1)
		go func() {
			defer finished.Done()
			// serialize enqueue order: wait for our predecessor to be queued
			for l.Stats().Queued != i {
				time.Sleep(time.Millisecond)
			}
			started.Done()
			err := l.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	started.Wait()
	require.Eventually(t, func() bool {
		return l.Stats().Queued == k
	}, time.Second, time.Millisecond)
	require.Equal(t, n, l.Stats().InFlight)

	for _, rel := range releases {
		rel()
	}
	finished.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order, "queued work runs in submission order")
	assert.Equal(t, 0, l.Stats().InFlight)
	assert.Equal(t, 0, l.Stats().Queued)
}

func TestAcquire_ContextCancelledWhileQueued(t *testing.T) {
	l := newTestLimiter(1, 2)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return l.Stats().Queued == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, l.Stats().Queued)

	// the slot is unaffected and still promotable
	release()
	rel, err := l.Acquire(context.Background())
	require.NoError(t, err)
	rel()
}

func TestDo_PropagatesWorkError(t *testing.T) {
	l := newTestLimiter(1, 0)

	wantErr := assert.AnError
	err := l.Do(context.Background(), func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, l.Stats().InFlight)
}

func TestZeroQueue_RejectsAtCapacity(t *testing.T) {
	l := newTestLimiter(1, 0)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
}
