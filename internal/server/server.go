// Package server exposes sessions and the dispatcher over HTTP, push streams,
// MCP and gRPC health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/dispatch"
	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// errRateLimited is returned by Submit when the limiter rejects a request
var errRateLimited = errors.New("rate limited")

// ScannerStatus reports scanner availability; implemented by scanner.Registry
type ScannerStatus interface {
	AvailableCount() int
	Describe() []scanner.Descriptor
}

// Queue accepts jobs; implemented by dispatch.Dispatcher
type Queue interface {
	Enqueue(job dispatch.Job) error
}

// Deps are the components the server fronts
type Deps struct {
	Sessions *session.Manager
	Queue    Queue
	Methods  *dispatch.Methods
	Scanners ScannerStatus
	// Metrics serves /metrics; nil disables the route
	Metrics http.Handler
	Logger  *slog.Logger
}

// Options configures the listeners
type Options struct {
	Name            string
	Version         string
	HTTPAddr        string
	GRPCAddr        string
	RateLimit       float64
	RateBurst       int
	KeepAlive       time.Duration
	ShutdownTimeout time.Duration
}

// Server is the transport layer
type Server struct {
	opts     Options
	sessions *session.Manager
	queue    Queue
	methods  *dispatch.Methods
	scanners ScannerStatus
	metrics  http.Handler
	limiter  *rate.Limiter
	audit    *AuditLogger
	mcp      *MCPBridge
	engine   *gin.Engine
	started  time.Time
	logger   *slog.Logger
}

// SubmitRequest is the body of POST /v1/requests and of WebSocket frames
type SubmitRequest struct {
	SessionID     string          `json:"sessionId"`
	CorrelationID string          `json:"correlationId" binding:"required"`
	Method        string          `json:"method" binding:"required"`
	Params        json.RawMessage `json:"params"`
}

// SubmitResponse acknowledges an accepted request
type SubmitResponse struct {
	SessionID      string `json:"sessionId"`
	CorrelationID  string `json:"correlationId"`
	Status         string `json:"status"`
	SessionCreated bool   `json:"sessionCreated"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version,omitempty"`
	ActiveSessions    int    `json:"activeSessions"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
	PID               int    `json:"pid"`
	ScannersAvailable int    `json:"scannersAvailable"`
}

// New creates a server and builds its routes
func New(deps Deps, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "reviewd"
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = config.DefaultKeepAliveInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:     opts,
		sessions: deps.Sessions,
		queue:    deps.Queue,
		methods:  deps.Methods,
		scanners: deps.Scanners,
		metrics:  deps.Metrics,
		audit:    NewAuditLogger(logger),
		started:  time.Now(),
		logger:   logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.mcp = NewMCPBridge(s, opts.Name, opts.Version)
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.engine
}

// MCP returns the MCP bridge
func (s *Server) MCP() *MCPBridge {
	return s.mcp
}

// Submit accepts a request for asynchronous execution. A missing or unknown
// session id opens a new session. The result is delivered on the session's
// push stream.
func (s *Server) Submit(ctx context.Context, req SubmitRequest, transport string) (SubmitResponse, error) {
	entry := &AuditEntry{
		SessionID:     req.SessionID,
		CorrelationID: req.CorrelationID,
		Method:        req.Method,
		Transport:     transport,
	}

	resp, err := s.submit(req)
	entry.SessionID = resp.SessionID
	if err != nil {
		entry.ErrorMsg = err.Error()
	}
	s.audit.LogSubmit(ctx, entry)
	return resp, err
}

func (s *Server) submit(req SubmitRequest) (SubmitResponse, error) {
	resp := SubmitResponse{
		SessionID:     req.SessionID,
		CorrelationID: req.CorrelationID,
	}

	if s.limiter != nil && !s.limiter.Allow() {
		return resp, errRateLimited
	}

	call, err := s.methods.Prepare(req.Method, req.Params)
	if err != nil {
		return resp, err
	}

	id := req.SessionID
	created := false
	if id == "" {
		if id, err = s.sessions.Open(); err != nil {
			return resp, err
		}
		created = true
	}

	err = s.sessions.Submit(id, req.CorrelationID)
	if errors.Is(err, types.ErrUnknownSession) && !created {
		// expired or never existed: start over on a fresh session
		if id, err = s.sessions.Open(); err != nil {
			return resp, err
		}
		created = true
		err = s.sessions.Submit(id, req.CorrelationID)
	}
	resp.SessionID = id
	resp.SessionCreated = created
	if err != nil {
		return resp, err
	}

	err = s.queue.Enqueue(dispatch.Job{
		SessionID:     id,
		CorrelationID: req.CorrelationID,
		Method:        req.Method,
		Call:          call,
	})
	if err != nil {
		s.sessions.Abort(id, req.CorrelationID)
		if created {
			s.sessions.Close(id)
		}
		return resp, err
	}

	resp.Status = "accepted"
	return resp, nil
}

// Health returns the current health snapshot
func (s *Server) Health() HealthResponse {
	available := 0
	if s.scanners != nil {
		available = s.scanners.AvailableCount()
	}
	return HealthResponse{
		Status:            "ok",
		Version:           s.opts.Version,
		ActiveSessions:    s.sessions.Count(),
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		PID:               os.Getpid(),
		ScannersAvailable: available,
	}
}
