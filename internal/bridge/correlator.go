package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// outcome is the single resolution of a pending request.
type outcome struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	id     string
	action string
	timer  *time.Timer
	done   chan outcome // buffered 1; written exactly once
}

// Correlator gives request/response semantics to the connection:
// every outbound command gets a fresh id and a deadline, inbound
// responses are matched back by id, and each pending request resolves
// exactly once through a response, its deadline, or a terminal
// connection loss.
type Correlator struct {
	conn   *Conn
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewCorrelator wires a Correlator to conn. It consumes conn's message
// stream and registers itself as the terminal handler so pending
// callers never outlive the connection.
func NewCorrelator(conn *Conn, logger *zap.Logger) *Correlator {
	c := &Correlator{
		conn:    conn,
		logger:  logger.Named("bridge.correlator"),
		pending: make(map[string]*pendingRequest),
	}

	conn.SetTerminalHandler(func(err error) {
		c.FailAll(err)
	})

	msgs, _ := conn.SubscribeMessages()
	go func() {
		for raw := range msgs {
			c.handleFrame(raw)
		}
	}()

	return c
}

// Send transmits {id, action, payload} and waits for the correlated
// reply, the per-command deadline, or ctx cancellation. The command is
// never retried here; retry policy belongs to the caller.
func (c *Correlator) Send(ctx context.Context, action string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.New().String()

	req := &pendingRequest{
		id:     id,
		action: action,
		done:   make(chan outcome, 1),
	}

	// Register before arming the deadline so a tiny timeout cannot fire
	// against an entry that is not in the pending set yet.
	c.mu.Lock()
	c.pending[id] = req
	req.timer = time.AfterFunc(timeout, func() {
		c.resolve(id, outcome{err: ErrRequestTimeout})
	})
	c.mu.Unlock()

	frame := &Frame{
		ID:      id,
		Type:    FrameTypeCommand,
		Action:  action,
		Payload: payload,
	}
	if err := c.conn.SendFrame(frame); err != nil {
		c.drop(id)
		return nil, err
	}

	c.logger.Debug("command sent",
		zap.String("id", id),
		zap.String("action", action),
		zap.Duration("timeout", timeout))

	select {
	case out := <-req.done:
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	}
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FailAll rejects every pending request with err. Used on terminal
// connection loss so no caller waits out a deadline that can never be
// answered.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		req.done <- outcome{err: err}
	}
	if len(pending) > 0 {
		c.logger.Warn("rejected pending requests on connection close",
			zap.Int("count", len(pending)),
			zap.Error(err))
	}
}

// handleFrame matches an inbound frame to its pending request by id.
// Responses arriving out of order are fine; matching is keyed only on
// the id. Unknown ids are logged and dropped (the request most likely
// already timed out).
func (c *Correlator) handleFrame(raw []byte) {
	id := gjson.GetBytes(raw, "id").String()
	if id == "" {
		// Unsolicited event frame, not a command response.
		return
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.logger.Warn("malformed response frame", zap.Error(err))
		return
	}

	var out outcome
	if frame.Error != "" {
		out.err = &CommandError{Action: frame.Action, Message: frame.Error}
	} else {
		out.result = frame.Result
	}

	if !c.resolve(id, out) {
		c.logger.Warn("response for unknown request",
			zap.String("id", id))
	}
}

// resolve removes id from the pending set and delivers out. The delete
// under the mutex guarantees at-most-once delivery.
func (c *Correlator) resolve(id string, out outcome) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	req.timer.Stop()
	req.done <- out
	return true
}

// drop removes a pending request without delivering an outcome (the
// caller has already given up).
func (c *Correlator) drop(id string) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		req.timer.Stop()
	}
}
