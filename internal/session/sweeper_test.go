package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/agent"
)

func TestSweeper_EvictsIdleSessions(t *testing.T) {
	m, _ := newTestManager(t, 2, 10*time.Millisecond)

	s, err := m.Create(agent.KindEcho)
	require.NoError(t, err)
	m.MarkIdle(s.ID)

	var mu sync.Mutex
	var evicted []string
	sw := NewSweeper(m, 15*time.Millisecond, func(_ context.Context, id string) {
		mu.Lock()
		evicted = append(evicted, id)
		mu.Unlock()
		m.Delete(id)
	}, zap.NewNop())

	sw.Start(context.Background())
	defer sw.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) == 1 && evicted[0] == s.ID
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, m.Capacity().Active)
}

func TestSweeper_LeavesProcessingAlone(t *testing.T) {
	m, _ := newTestManager(t, 1, 5*time.Millisecond)

	s, err := m.Create(agent.KindEcho)
	require.NoError(t, err)
	require.True(t, m.MarkProcessing(s.ID))

	var mu sync.Mutex
	evictions := 0
	sw := NewSweeper(m, 10*time.Millisecond, func(context.Context, string) {
		mu.Lock()
		evictions++
		mu.Unlock()
	}, zap.NewNop())

	sw.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	sw.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, evictions)
}

func TestSweeper_StopIsIdempotentWithContext(t *testing.T) {
	m, _ := newTestManager(t, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	sw := NewSweeper(m, time.Hour, func(context.Context, string) {}, zap.NewNop())
	sw.Start(ctx)
	cancel()

	// loop exits on context cancellation; Stop still returns
	assert.Eventually(t, func() bool {
		select {
		case <-sw.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
