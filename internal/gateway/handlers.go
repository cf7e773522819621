package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/agent"
	"github.com/webrelay/webrelay/internal/bridge"
	"github.com/webrelay/webrelay/internal/limiter"
	"github.com/webrelay/webrelay/internal/session"
)

type createSessionRequest struct {
	AgentKind string `json:"agent_kind"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type actionRequest struct {
	Action  string          `json:"action" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	kind := agent.Kind(req.AgentKind)
	if kind == "" {
		kind = agent.KindChat
	}

	info, err := s.sessions.Create(kind)
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "session capacity reached"})
			return
		}
		s.logger.Error("failed to create session", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if !s.sessions.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	id := c.Param("id")
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	if !s.sessions.MarkProcessing(id) {
		if _, err := s.sessions.Get(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "session is already processing a message"})
		return
	}
	defer s.sessions.MarkIdle(id)

	ag, err := s.sessions.Agent(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	reply, err := ag.Execute(c.Request.Context(), req.Content)
	if err != nil {
		s.respondExecuteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "reply": reply})
}

func (s *Server) handleAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	result, err := s.bridge.Execute(c.Request.Context(), req.Action, req.Payload)
	if err != nil {
		s.respondExecuteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": req.Action, "result": result})
}

func (s *Server) handleStatus(c *gin.Context) {
	stats := s.bridge.Stats()
	cap := s.sessions.Capacity()
	c.JSON(http.StatusOK, gin.H{
		"connection": gin.H{
			"status":  s.bridge.Status().String(),
			"pending": s.bridge.PendingRequests(),
		},
		"limiter": gin.H{
			"in_flight":   stats.InFlight,
			"queued":      stats.Queued,
			"utilization": stats.Utilization,
		},
		"sessions": gin.H{
			"active": cap.Active,
			"max":    cap.Max,
		},
	})
}

// respondExecuteError maps command failures onto HTTP statuses. Overload
// and disconnection are retryable; command errors reported by the
// browser side are not.
func (s *Server) respondExecuteError(c *gin.Context, err error) {
	var cmdErr *bridge.CommandError
	switch {
	case errors.Is(err, limiter.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command queue is full, retry later"})
	case errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrConnectionClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "browser connection unavailable"})
	case errors.Is(err, bridge.ErrRequestTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "browser command timed out"})
	case errors.As(err, &cmdErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": cmdErr.Error()})
	default:
		s.logger.Error("command execution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
