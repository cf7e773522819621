package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/agent"
	"github.com/webrelay/webrelay/internal/bridge"
	"github.com/webrelay/webrelay/internal/common/config"
	"github.com/webrelay/webrelay/internal/limiter"
	"github.com/webrelay/webrelay/internal/session"
)

func newTestServer(t *testing.T, maxSessions int) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	cfg := &config.Config{
		Port: 0,
		Browser: config.BrowserConfig{
			Host:           "127.0.0.1:1",
			Path:           "/relay",
			ConnectTimeout: 100 * time.Millisecond,
			RequestTimeout: time.Second,
		},
	}
	lim := limiter.New(1, 0, logger, nil)
	b := bridge.New(&cfg.Browser, lim, logger, nil)

	factory := func(kind agent.Kind) (agent.Agent, error) {
		return agent.New(kind, agent.Deps{Logger: logger})
	}
	mgr := session.NewManager(maxSessions, time.Minute, factory, logger, nil)

	return NewServer(cfg, b, mgr, nil, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, 2)
	w := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SessionLifecycle(t *testing.T) {
	s := newTestServer(t, 2)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/sessions", gin.H{"agent_kind": "echo"})
	require.Equal(t, http.StatusCreated, w.Code)

	var info session.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.NotEmpty(t, info.ID)

	w = doJSON(t, h, http.MethodGet, "/api/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), info.ID)

	w = doJSON(t, h, http.MethodDelete, "/api/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CreateSessionUnknownKind(t *testing.T) {
	s := newTestServer(t, 2)
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/sessions", gin.H{"agent_kind": "oracle"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_CreateSessionAtCapacity(t *testing.T) {
	s := newTestServer(t, 1)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/sessions", gin.H{"agent_kind": "echo"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/sessions", gin.H{"agent_kind": "echo"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestServer_SendMessage(t *testing.T) {
	s := newTestServer(t, 2)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/sessions", gin.H{"agent_kind": "echo"})
	require.Equal(t, http.StatusCreated, w.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	path := fmt.Sprintf("/api/sessions/%s/messages", info.ID)
	w = doJSON(t, h, http.MethodPost, path, gin.H{"content": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")

	// The turn finished, so the session is idle and accepts another.
	w = doJSON(t, h, http.MethodPost, path, gin.H{"content": "again"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SendMessageValidation(t *testing.T) {
	s := newTestServer(t, 2)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/sessions", gin.H{"agent_kind": "echo"})
	require.Equal(t, http.StatusCreated, w.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+info.ID+"/messages", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/sessions/nope/messages", gin.H{"content": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_SendMessageConflictWhileProcessing(t *testing.T) {
	s := newTestServer(t, 2)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/sessions", gin.H{"agent_kind": "echo"})
	require.Equal(t, http.StatusCreated, w.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	// Pin the session into processing out of band, as a slow in-flight
	// turn would.
	require.True(t, s.sessions.MarkProcessing(info.ID))

	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+info.ID+"/messages", gin.H{"content": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_ActionWithoutConnection(t *testing.T) {
	s := newTestServer(t, 2)
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/actions", gin.H{"action": "navigate"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(t, 2)
	w := doJSON(t, s.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	conn := body["connection"].(map[string]any)
	assert.Equal(t, "disconnected", conn["status"])
}
