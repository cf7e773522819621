package bridge

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/common/config"
	"github.com/webrelay/webrelay/internal/limiter"
	"github.com/webrelay/webrelay/pkg/metrics"
)

// Bridge is the caller-facing surface over the control connection:
// it resolves a command to its timeout, gates it through admission
// control, and correlates the response. All sessions share one Bridge.
type Bridge struct {
	conn       *Conn
	correlator *Correlator
	router     *Router
	limiter    *limiter.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New assembles the bridge from configuration.
func New(cfg *config.BrowserConfig, lim *limiter.Limiter, logger *zap.Logger, m *metrics.Metrics) *Bridge {
	conn := NewConn(ConnConfig{
		URL:                  "ws://" + cfg.Host + cfg.Path,
		ConnectTimeout:       cfg.ConnectTimeout,
		HeartbeatInterval:    cfg.Heartbeat.Interval,
		HeartbeatTimeout:     cfg.Heartbeat.Timeout,
		ReconnectBase:        cfg.Reconnect.BaseDelay,
		ReconnectMultiplier:  cfg.Reconnect.Multiplier,
		ReconnectMax:         cfg.Reconnect.MaxDelay,
		ReconnectMaxAttempts: cfg.Reconnect.MaxAttempts,
	}, logger, m)

	return &Bridge{
		conn:       conn,
		correlator: NewCorrelator(conn, logger),
		router:     NewRouter(cfg.RequestTimeout),
		limiter:    lim,
		logger:     logger.Named("bridge"),
		metrics:    m,
	}
}

// Connect opens the control connection.
func (b *Bridge) Connect(ctx context.Context) error {
	return b.conn.Connect(ctx)
}

// Close terminally shuts the control connection down, rejecting all
// pending commands.
func (b *Bridge) Close() error {
	return b.conn.Close()
}

// IsConnected reports whether the control connection is open.
func (b *Bridge) IsConnected() bool {
	return b.conn.IsConnected()
}

// Status returns the control connection status.
func (b *Bridge) Status() Status {
	return b.conn.Status()
}

// SubscribeStatus exposes the connection status stream.
func (b *Bridge) SubscribeStatus() (<-chan Status, func()) {
	return b.conn.SubscribeStatus()
}

// Execute runs one browser command end to end: admission control,
// per-action timeout, correlated send.
func (b *Bridge) Execute(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	var result json.RawMessage
	err := b.limiter.Do(ctx, func() error {
		b.metrics.CommandStarted()
		defer b.metrics.CommandFinished()

		start := time.Now()
		timeout := b.router.TimeoutFor(action)

		var sendErr error
		result, sendErr = b.correlator.Send(ctx, action, payload, timeout)

		status := "ok"
		if sendErr != nil {
			status = "error"
		}
		b.metrics.ObserveCommand(action, status, time.Since(start))
		return sendErr
	})
	if err != nil {
		b.logger.Debug("command failed",
			zap.String("action", action),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// Stats exposes admission-control pressure for the status surface.
func (b *Bridge) Stats() limiter.Stats {
	return b.limiter.Stats()
}

// PendingRequests returns the number of commands awaiting a response.
func (b *Bridge) PendingRequests() int {
	return b.correlator.PendingCount()
}
