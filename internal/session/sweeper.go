package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EvictFunc tears down one idle session. The sweeper hands over ids;
// what eviction means (closing transports, notifying callers) is up to
// the owner.
type EvictFunc func(ctx context.Context, id string)

// Sweeper periodically asks the manager for idle sessions and evicts
// them through the provided callback. It runs until Stop or context
// cancellation.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	evict    EvictFunc
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper; call Start to begin sweeping.
func NewSweeper(manager *Manager, interval time.Duration, evict EvictFunc, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
		evict:    evict,
		logger:   logger.Named("session.sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweep(ctx context.Context) {
	ids := s.manager.FindIdle()
	if len(ids) == 0 {
		return
	}
	s.logger.Info("evicting idle sessions", zap.Int("count", len(ids)))
	for _, id := range ids {
		s.evict(ctx, id)
	}
}
