package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

const (
	transportHTTP = "http"
	transportWS   = "ws"
	transportSSE  = "sse"
	transportMCP  = "mcp"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(s.opts.Name), requestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/v1")
	v1.POST("/requests", s.handleSubmit)
	v1.GET("/scanners", s.handleScanners)
	v1.POST("/sessions", s.handleOpenSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.GET("/sessions/:id/events", s.handleEvents)
	v1.GET("/sessions/:id/ws", s.handleWebSocket)
	v1.GET("/sessions/:id/messages", s.handleMessages)
	v1.DELETE("/sessions/:id", s.handleCloseSession)

	mcp := gin.WrapH(s.mcp.Handler())
	r.GET("/mcp/sse", mcp)
	r.POST("/mcp/message", mcp)

	return r
}

// requestLogger logs each request at debug level; push streams log on exit
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func abortWithError(c *gin.Context, err error, sessionID string) {
	status, body := errorResponse(err, sessionID)
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSubmitSize)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, session.ErrorBody{
				Code:    config.CodeInvalidRequest,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, session.ErrorBody{
			Code:    config.CodeInvalidRequest,
			Message: err.Error(),
		})
		return
	}

	resp, err := s.Submit(c.Request.Context(), req, transportHTTP)
	if err != nil {
		abortWithError(c, err, resp.SessionID)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) handleOpenSession(c *gin.Context) {
	id, err := s.sessions.Open()
	if err != nil {
		abortWithError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": id})
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	info, ok := s.sessions.Get(id)
	if !ok {
		abortWithError(c, types.ErrUnknownSession, id)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleMessages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := s.sessions.Drain(id)
	if err != nil {
		abortWithError(c, err, id)
		return
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	for _, m := range msgs {
		s.audit.LogDelivery(c.Request.Context(), deliveryEntry(id, m, transportHTTP))
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "messages": msgs})
}

// handleCloseSession is idempotent: unknown and already closed ids also get 204
func (s *Server) handleCloseSession(c *gin.Context) {
	id := c.Param("id")
	if s.sessions.Close(id) {
		s.logger.Info("Session closed by client", "session_id", id)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.Health())
}

func (s *Server) handleScanners(c *gin.Context) {
	if s.scanners == nil {
		c.JSON(http.StatusOK, gin.H{"scanners": []any{}, "available": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scanners":  s.scanners.Describe(),
		"available": s.scanners.AvailableCount(),
	})
}

func deliveryEntry(id string, m session.Message, transport string) *AuditEntry {
	entry := &AuditEntry{
		SessionID:     id,
		CorrelationID: m.CorrelationID,
		Transport:     transport,
	}
	if m.Error != nil {
		entry.ErrorMsg = m.Error.Message
	}
	return entry
}

// eventName is the SSE event type for a message
func eventName(m session.Message) string {
	if m.Error != nil {
		return "error"
	}
	return "result"
}
