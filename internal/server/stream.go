package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	// maxSubmitSize bounds one inbound submission, HTTP body or WebSocket
	// frame, since it carries whole file contents
	maxSubmitSize = 16 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     localOrigin,
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// localOrigin accepts non-browser clients and pages served from loopback
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.IsLoopback()
}

// handleEvents streams completed messages as server-sent events until the
// client disconnects or the session closes
func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	sub, err := s.sessions.Subscribe(id)
	if err != nil {
		abortWithError(c, err, id)
		return
	}
	defer sub.Close()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	s.logger.Debug("SSE stream opened", "session_id", id)
	defer s.logger.Debug("SSE stream closed", "session_id", id)

	for {
		select {
		case <-sub.Notify:
			msgs, err := s.sessions.Drain(id)
			if err != nil {
				return
			}
			for _, m := range msgs {
				c.SSEvent(eventName(m), m)
				s.audit.LogDelivery(ctx, deliveryEntry(id, m, transportSSE))
			}
			c.Writer.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()

		case <-sub.Done:
			c.SSEvent("closed", gin.H{"sessionId": id})
			c.Writer.Flush()
			return

		case <-ctx.Done():
			return
		}
	}
}

// wsFrame is the envelope for everything sent over the WebSocket
type wsFrame struct {
	Type    string             `json:"type"`
	Message *session.Message   `json:"message,omitempty"`
	Ack     *SubmitResponse    `json:"ack,omitempty"`
	Error   *session.ErrorBody `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (w *wsConn) close(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket pushes the same stream as handleEvents and also accepts
// submissions for the session as inbound frames
func (s *Server) handleWebSocket(c *gin.Context) {
	id := c.Param("id")
	sub, err := s.sessions.Subscribe(id)
	if err != nil {
		abortWithError(c, err, id)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxSubmitSize)
	ws := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	readerDone := make(chan struct{})
	go s.wsReadLoop(ctx, id, ws, readerDone)

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	s.logger.Debug("WebSocket stream opened", "session_id", id)
	defer s.logger.Debug("WebSocket stream closed", "session_id", id)

	for {
		select {
		case <-sub.Notify:
			msgs, err := s.sessions.Drain(id)
			if err != nil {
				return
			}
			for i := range msgs {
				if err := ws.writeJSON(wsFrame{Type: eventName(msgs[i]), Message: &msgs[i]}); err != nil {
					return
				}
				s.audit.LogDelivery(ctx, deliveryEntry(id, msgs[i], transportWS))
			}

		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}

		case <-sub.Done:
			ws.close("session closed")
			return

		case <-readerDone:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) wsReadLoop(ctx context.Context, id string, ws *wsConn, done chan<- struct{}) {
	defer close(done)
	for {
		var req SubmitRequest
		if err := ws.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read failed", "session_id", id, "error", err)
			}
			return
		}

		req.SessionID = id
		if req.CorrelationID == "" || req.Method == "" {
			_ = ws.writeJSON(wsFrame{Type: "rejected", Error: &session.ErrorBody{
				Code:    config.CodeInvalidRequest,
				Message: "correlationId and method are required",
			}})
			continue
		}

		resp, err := s.Submit(ctx, req, transportWS)
		if err != nil {
			_, body := errorResponse(err, id)
			_ = ws.writeJSON(wsFrame{Type: "rejected", Ack: &resp, Error: &body})
			continue
		}
		_ = ws.writeJSON(wsFrame{Type: "ack", Ack: &resp})
	}
}
