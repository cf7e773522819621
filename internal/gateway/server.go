// Package gateway exposes the HTTP surface over the control plane:
// session CRUD, message turns, raw browser actions, and operational
// status. Capacity and overload conditions map to retryable HTTP
// statuses at this boundary.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/bridge"
	"github.com/webrelay/webrelay/internal/common/config"
	"github.com/webrelay/webrelay/internal/session"
	"github.com/webrelay/webrelay/pkg/metrics"
)

// Server is the HTTP gateway.
type Server struct {
	logger   *zap.Logger
	cfg      *config.Config
	router   *gin.Engine
	bridge   *bridge.Bridge
	sessions *session.Manager
	metrics  *metrics.Metrics
	httpSrv  *http.Server
}

// NewServer assembles the gateway router.
func NewServer(cfg *config.Config, b *bridge.Bridge, sessions *session.Manager, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		logger:   logger.Named("gateway"),
		cfg:      cfg,
		router:   gin.New(),
		bridge:   b,
		sessions: sessions,
		metrics:  m,
	}

	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.recoveryMiddleware())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.HTTPHandler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/actions", s.handleAction)

		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.DELETE("/sessions/:id", s.handleDeleteSession)
		api.POST("/sessions/:id/messages", s.handleSendMessage)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or is shut
// down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}
	s.logger.Info("gateway listening", zap.Int("port", s.cfg.Port))

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// loggerMiddleware logs incoming requests and outgoing responses
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.logger.Debug("incoming request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr),
		)

		c.Next()

		s.logger.Debug("outgoing response",
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
		)
	}
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
