// Package limiter bounds concurrent work against the shared browser
// connection. Excess work queues FIFO up to a configured size; beyond
// that, callers are rejected synchronously instead of piling up.
package limiter

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/webrelay/webrelay/pkg/metrics"
)

// ErrQueueFull is the fail-fast overload rejection: the limiter is at
// capacity and its queue is already at the configured bound.
var ErrQueueFull = errors.New("admission queue full")

// Stats is the observability surface of the limiter.
type Stats struct {
	InFlight    int     `json:"in_flight"`
	Queued      int     `json:"queued"`
	Utilization float64 `json:"utilization"`
}

// Limiter admits up to maxConcurrent units of work and queues at most
// maxQueueSize more, promoting queued work in FIFO order as capacity
// frees up.
type Limiter struct {
	maxConcurrent int
	maxQueueSize  int
	logger        *zap.Logger
	metrics       *metrics.Metrics

	mu       sync.Mutex
	inFlight int
	queue    []chan struct{}
}

// New creates a Limiter.
func New(maxConcurrent, maxQueueSize int, logger *zap.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		maxConcurrent: maxConcurrent,
		maxQueueSize:  maxQueueSize,
		logger:        logger.Named("limiter"),
		metrics:       m,
	}
}

// Acquire claims a concurrency slot, blocking in FIFO order while the
// limiter is at capacity. The returned release func must be called
// exactly once. Rejection with ErrQueueFull is synchronous and leaves
// the limiter state untouched.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.inFlight < l.maxConcurrent {
		l.inFlight++
		l.mu.Unlock()
		return l.release, nil
	}

	if len(l.queue) >= l.maxQueueSize {
		l.mu.Unlock()
		l.metrics.QueueRejected()
		l.logger.Warn("work rejected, queue full",
			zap.Int("max_concurrent", l.maxConcurrent),
			zap.Int("max_queue_size", l.maxQueueSize))
		return nil, ErrQueueFull
	}

	ready := make(chan struct{})
	l.queue = append(l.queue, ready)
	l.metrics.SetQueueDepth(len(l.queue))
	l.mu.Unlock()

	select {
	case <-ready:
		// The releaser already transferred the slot to us.
		return l.release, nil
	case <-ctx.Done():
		if !l.abandon(ready) {
			// Promotion raced the cancellation; give the slot back.
			l.release()
		}
		return nil, ctx.Err()
	}
}

// Do runs fn under a concurrency slot.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Stats returns the current admission pressure.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		InFlight:    l.inFlight,
		Queued:      len(l.queue),
		Utilization: float64(l.inFlight) / float64(l.maxConcurrent),
	}
}

// release frees a slot and promotes the oldest queued waiter, if any.
// The slot is handed over directly so inFlight never dips below the
// true number of admitted units.
func (l *Limiter) release() {
	l.mu.Lock()
	if len(l.queue) > 0 {
		head := l.queue[0]
		l.queue = l.queue[1:]
		l.metrics.SetQueueDepth(len(l.queue))
		l.mu.Unlock()
		close(head)
		return
	}
	l.inFlight--
	l.mu.Unlock()
}

// abandon removes a waiter that gave up. It reports false when the
// waiter was already promoted.
func (l *Limiter) abandon(ready chan struct{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ch := range l.queue {
		if ch == ready {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			l.metrics.SetQueueDepth(len(l.queue))
			return true
		}
	}
	return false
}
