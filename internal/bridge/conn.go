package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/pkg/metrics"
)

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// ConnConfig carries the timing knobs for the control connection.
type ConnConfig struct {
	URL string

	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	ReconnectBase        time.Duration
	ReconnectMultiplier  float64
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int // 0 means retry forever
}

// Conn maintains the single logical websocket link to the browser-side
// process. It owns reconnection with exponential backoff and an
// application-level ping/pong heartbeat; consumers observe it through
// the status and message subscriptions.
type Conn struct {
	cfg     ConnConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer

	mu             sync.Mutex
	status         Status
	ws             *websocket.Conn
	gen            int // connection generation, fences stale pump callbacks
	attempts       int
	lastPong       time.Time
	pingPending    bool
	reconnectTimer *time.Timer
	pongTimer      *time.Timer
	hbStop         chan struct{}
	closed         bool
	onTerminal     func(error)

	// writeMu serializes websocket writes; heartbeats and commands share
	// the same outbound channel with no priority.
	writeMu sync.Mutex

	statusHub *hub[Status]
	msgHub    *hub[[]byte]
}

// NewConn creates a Conn in the disconnected state. Call Connect to
// open the transport.
func NewConn(cfg ConnConfig, logger *zap.Logger, m *metrics.Metrics) *Conn {
	return &Conn{
		cfg:     cfg,
		logger:  logger.Named("bridge.conn"),
		metrics: m,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		status:    StatusDisconnected,
		statusHub: newHub[Status](16),
		msgHub:    newHub[[]byte](256),
	}
}

// SetTerminalHandler registers the callback invoked exactly once when
// the connection is terminally closed: explicit Close, or reconnect
// attempts exhausted. Must be set before Connect.
func (c *Conn) SetTerminalHandler(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTerminal = fn
}

// Connect opens the transport. It is a no-op when already connected or
// a dial is in progress. A dial failure moves the connection to the
// error state and schedules a reconnection attempt.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	switch c.status {
	case StatusConnected, StatusConnecting:
		c.mu.Unlock()
		return nil
	}
	// A manual connect supersedes any pending reconnect timer.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrConnectionClosed
		}
		c.setStatusLocked(StatusError)
		c.scheduleReconnectLocked()
		c.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrConnectTimeout
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrConnectionClosed
	}
	c.gen++
	gen := c.gen
	c.ws = ws
	c.attempts = 0
	c.lastPong = time.Now()
	c.pingPending = false
	c.hbStop = make(chan struct{})
	stop := c.hbStop
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	c.logger.Info("control connection established", zap.String("url", c.cfg.URL))

	go c.readPump(ws, gen)
	go c.heartbeat(stop, gen)
	return nil
}

// Close terminally shuts the connection down. No reconnection is
// scheduled afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.teardownLinkLocked()
	c.setStatusLocked(StatusDisconnected)
	onTerminal := c.onTerminal
	c.mu.Unlock()

	c.logger.Info("control connection closed")
	if onTerminal != nil {
		onTerminal(ErrConnectionClosed)
	}
	return nil
}

// Status returns the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the link is currently open.
func (c *Conn) IsConnected() bool {
	return c.Status() == StatusConnected
}

// ReconnectAttempts returns the number of reconnection attempts made
// since the last successful open.
func (c *Conn) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// SubscribeStatus registers an observer for status transitions.
func (c *Conn) SubscribeStatus() (<-chan Status, func()) {
	return c.statusHub.Subscribe()
}

// SubscribeMessages registers an observer for inbound non-control
// frames, delivered in arrival order. Frames in flight during a
// connection drop are lost; callers must apply their own deadlines.
func (c *Conn) SubscribeMessages() (<-chan []byte, func()) {
	return c.msgHub.Subscribe()
}

// SendFrame marshals f and writes it to the link.
func (c *Conn) SendFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.send(data)
}

func (c *Conn) send(data []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// readPump consumes inbound frames until the link drops. Control
// frames are handled here; everything else fans out to subscribers.
func (c *Conn) readPump(ws *websocket.Conn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}

		switch gjson.GetBytes(data, "type").String() {
		case FrameTypePong:
			c.handlePong(gen)
		case FrameTypePing:
			if err := c.send(pongFrame); err != nil {
				c.logger.Debug("failed to answer peer ping", zap.Error(err))
			}
		default:
			c.msgHub.Publish(data)
		}
	}
}

// heartbeat drives the periodic ping and the two staleness guards: a
// link with no pong for interval+timeout is treated as dead, and every
// ping arms a one-shot timer that fires unless a pong arrives first.
func (c *Conn) heartbeat(stop <-chan struct{}, gen int) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.gen != gen || c.status != StatusConnected {
				c.mu.Unlock()
				return
			}
			stale := time.Since(c.lastPong) > c.cfg.HeartbeatInterval+c.cfg.HeartbeatTimeout
			c.mu.Unlock()

			if stale {
				c.logger.Warn("no pong within heartbeat window, forcing close")
				c.metrics.HeartbeatFailed()
				c.forceClose(gen)
				return
			}

			if err := c.send(pingFrame); err != nil {
				// The read pump will observe the broken link.
				c.logger.Debug("heartbeat ping failed", zap.Error(err))
				continue
			}

			c.mu.Lock()
			if c.gen == gen && c.status == StatusConnected {
				c.pingPending = true
				c.stopPongTimerLocked()
				c.pongTimer = time.AfterFunc(c.cfg.HeartbeatTimeout, func() {
					c.onPongTimeout(gen)
				})
			}
			c.mu.Unlock()
		}
	}
}

func (c *Conn) handlePong(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.lastPong = time.Now()
	c.pingPending = false
	c.stopPongTimerLocked()
}

func (c *Conn) onPongTimeout(gen int) {
	c.mu.Lock()
	if c.gen != gen || !c.pingPending {
		c.mu.Unlock()
		return
	}
	c.pingPending = false
	c.mu.Unlock()

	c.logger.Warn("ping unanswered, forcing close",
		zap.Duration("timeout", c.cfg.HeartbeatTimeout))
	c.metrics.HeartbeatFailed()
	c.forceClose(gen)
}

// forceClose tears the websocket down; the read pump turns the
// resulting read error into the reconnect path.
func (c *Conn) forceClose(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.ws == nil {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Conn) handleDisconnect(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.teardownLinkLocked()
	if c.closed {
		c.setStatusLocked(StatusDisconnected)
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(StatusReconnecting)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("control connection lost", zap.Error(err))
}

// teardownLinkLocked disarms the per-link timers and closes the socket.
func (c *Conn) teardownLinkLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	c.stopPongTimerLocked()
	c.pingPending = false
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}

func (c *Conn) stopPongTimerLocked() {
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// scheduleReconnectLocked arms a single reconnect timer. A timer
// already pending suppresses a second schedule. Exhausting the attempt
// budget is a terminal condition.
func (c *Conn) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		return
	}
	if c.cfg.ReconnectMaxAttempts > 0 && c.attempts >= c.cfg.ReconnectMaxAttempts {
		c.logger.Error("reconnect attempts exhausted",
			zap.Int("attempts", c.attempts))
		c.setStatusLocked(StatusError)
		if c.onTerminal != nil {
			go c.onTerminal(ErrConnectionClosed)
		}
		return
	}

	delay := jitter(c.backoffBase(c.attempts))
	c.attempts++
	c.metrics.Reconnected()
	c.logger.Info("scheduling reconnect",
		zap.Duration("delay", delay),
		zap.Int("attempt", c.attempts))

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Debug("reconnect attempt failed", zap.Error(err))
		}
	})
}

// backoffBase computes the unjittered delay for the given attempt:
// min(base * multiplier^attempt, max).
func (c *Conn) backoffBase(attempt int) time.Duration {
	d := float64(c.cfg.ReconnectBase) * math.Pow(c.cfg.ReconnectMultiplier, float64(attempt))
	if d > float64(c.cfg.ReconnectMax) {
		return c.cfg.ReconnectMax
	}
	return time.Duration(d)
}

// jitter spreads d uniformly across ±20%.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}

func (c *Conn) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.metrics.SetConnStatus(s.String())
	c.statusHub.Publish(s)
}
