package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/agent"
	"github.com/webrelay/webrelay/pkg/metrics"
)

// teardownTimeout bounds one agent teardown during delete and shutdown.
const teardownTimeout = 10 * time.Second

// AgentFactory builds the agent bound to a new session.
type AgentFactory func(kind agent.Kind) (agent.Agent, error)

// Manager owns all sessions. State transitions are checked-and-set
// under one lock so a pair of concurrent MarkProcessing calls for the
// same id cannot both win.
type Manager struct {
	maxSessions int
	idleTimeout time.Duration
	newAgent    AgentFactory
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(maxSessions int, idleTimeout time.Duration, factory AgentFactory, logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		newAgent:    factory,
		logger:      logger.Named("session"),
		metrics:     m,
		sessions:    make(map[string]*Session),
	}
}

// Create allocates a new idle session with its agent. When the agent
// constructor fails the session is never inserted, so there is no
// half-created state to roll back.
func (m *Manager) Create(kind agent.Kind) (Info, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return Info{}, ErrCapacity
	}
	m.mu.Unlock()

	a, err := m.newAgent(kind)
	if err != nil {
		return Info{}, err
	}

	now := time.Now()
	s := &Session{
		id:           uuid.New().String(),
		state:        StateIdle,
		createdAt:    now,
		lastActivity: now,
		agent:        a,
	}

	m.mu.Lock()
	// Re-check under the lock; another create may have raced us while
	// the agent was being constructed.
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		m.teardownAgent(s.id, a)
		return Info{}, ErrCapacity
	}
	m.sessions[s.id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(active)
	m.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("agent_kind", string(kind)),
		zap.Int("active", active))
	return s.info(), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	return s.info(), nil
}

// Agent returns the agent owned by the session.
func (m *Manager) Agent(id string) (agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.agent, nil
}

// List returns snapshots of all active sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// MarkProcessing claims the session's single message turn. It returns
// false without mutating anything when the session is unknown or
// already processing; that is an expected race under concurrent
// delivery, not an error. LastActivity is deliberately untouched: the
// idle clock only starts once the turn completes, so a long-running
// turn is never mistaken for idleness.
func (m *Manager) MarkProcessing(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.state != StateIdle {
		return false
	}
	s.state = StateProcessing
	s.messageCount++
	return true
}

// MarkIdle releases the session's message turn. This is the only place
// the idle clock resets.
func (m *Manager) MarkIdle(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.state = StateIdle
	s.lastActivity = time.Now()
}

// FindIdle returns ids of sessions that have been idle longer than the
// idle timeout. Processing sessions are never candidates, no matter
// how old their last idle transition is. The manager only reports;
// actual eviction is the caller's decision.
func (m *Manager) FindIdle() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var ids []string
	for id, s := range m.sessions {
		if s.state == StateIdle && now.Sub(s.lastActivity) > m.idleTimeout {
			ids = append(ids, id)
		}
	}
	return ids
}

// Delete removes the session and asynchronously tears down its agent.
// It reports whether a session existed. Teardown failures are logged,
// never surfaced: the session is gone from the active set regardless.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.state = StateClosing
	delete(m.sessions, id)
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(active)
	go func() {
		m.teardownAgent(id, s.agent)
		s.state = StateClosed
	}()

	m.logger.Info("session deleted",
		zap.String("session_id", id),
		zap.Int("active", active))
	return true
}

// Capacity returns the session admission headroom.
func (m *Manager) Capacity() Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Capacity{
		Active:    len(m.sessions),
		Max:       m.maxSessions,
		Available: m.maxSessions - len(m.sessions),
	}
}

// IsAtCapacity reports whether another Create would be rejected.
func (m *Manager) IsAtCapacity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions) >= m.maxSessions
}

// Shutdown tears down every agent concurrently and waits for all of
// them to finish, success or not. It never fails: teardown errors are
// logged and swallowed so a stuck agent cannot wedge process shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(0)

	var wg sync.WaitGroup
	for id, s := range sessions {
		s.state = StateClosing
		wg.Add(1)
		go func(id string, a agent.Agent) {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, teardownTimeout)
			defer cancel()
			if err := a.Close(tctx); err != nil {
				m.logger.Warn("agent teardown failed",
					zap.String("session_id", id),
					zap.Error(err))
			}
		}(id, s.agent)
	}
	wg.Wait()

	m.logger.Info("session manager shut down",
		zap.Int("torn_down", len(sessions)))
}

func (m *Manager) teardownAgent(id string, a agent.Agent) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		m.logger.Warn("agent teardown failed",
			zap.String("session_id", id),
			zap.Error(err))
	}
}
