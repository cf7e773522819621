// Package session owns per-conversation state: each session holds its
// agent directly, the manager bounds how many exist, serializes message
// turns per session, and reports idle candidates for eviction.
package session

import (
	"errors"
	"time"

	"github.com/webrelay/webrelay/internal/agent"
)

var (
	// ErrSessionNotFound is returned when the id is not in the active set.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCapacity is returned when creating a session would exceed the
	// configured maximum.
	ErrCapacity = errors.New("session capacity reached")
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Session is one logical agent conversation. It owns its agent; there
// is no session without an agent and no agent outside a session.
type Session struct {
	id           string
	state        State
	createdAt    time.Time
	lastActivity time.Time
	messageCount uint64
	agent        agent.Agent
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount uint64    `json:"message_count"`
}

func (s *Session) info() Info {
	return Info{
		ID:           s.id,
		State:        s.state,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		MessageCount: s.messageCount,
	}
}

// Capacity describes the session admission headroom.
type Capacity struct {
	Active    int `json:"active"`
	Max       int `json:"max"`
	Available int `json:"available"`
}
