package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// MCPBridge exposes review.file and scanners.list as MCP tools. Each MCP
// client session is bound to one reviewd session; completed reviews are
// pushed back as notifications/review/result.
type MCPBridge struct {
	srv    *Server
	mcp    *mcpserver.MCPServer
	sse    *mcpserver.SSEServer
	logger *slog.Logger

	mu    sync.Mutex
	links map[string]*mcpLink
}

type mcpLink struct {
	sessionID string
	sub       *session.Subscription
}

// NewMCPBridge creates the MCP server and its SSE transport under /mcp
func NewMCPBridge(s *Server, name, version string) *MCPBridge {
	b := &MCPBridge{
		srv:    s,
		logger: s.logger.With("component", "mcp"),
		links:  make(map[string]*mcpLink),
	}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(b.onRegister)
	hooks.AddOnUnregisterSession(b.onUnregister)

	b.mcp = mcpserver.NewMCPServer(
		name,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)
	b.registerTools()

	sseOpts := []mcpserver.SSEOption{
		mcpserver.WithStaticBasePath("/mcp"),
		mcpserver.WithKeepAlive(true),
	}
	if s.opts.HTTPAddr != "" {
		sseOpts = append(sseOpts, mcpserver.WithBaseURL("http://"+s.opts.HTTPAddr))
	}
	b.sse = mcpserver.NewSSEServer(b.mcp, sseOpts...)
	return b
}

// Handler serves /mcp/sse and /mcp/message
func (b *MCPBridge) Handler() http.Handler {
	return b.sse
}

// Server returns the underlying mcp-go server
func (b *MCPBridge) Server() *mcpserver.MCPServer {
	return b.mcp
}

// Shutdown closes the SSE transport and every bound session
func (b *MCPBridge) Shutdown(ctx context.Context) error {
	err := b.sse.Shutdown(ctx)
	b.mu.Lock()
	links := b.links
	b.links = make(map[string]*mcpLink)
	b.mu.Unlock()
	for _, link := range links {
		link.sub.Close()
		b.srv.sessions.Close(link.sessionID)
	}
	return err
}

func (b *MCPBridge) registerTools() {
	reviewTool := mcp.NewTool(config.MethodReviewFile,
		mcp.WithDescription("Review one file with every applicable security and quality scanner. "+
			"Returns immediately; the result arrives as a "+config.NotificationReviewResult+" notification."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Path of the file, used for scanner selection and reporting"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full file content to review"),
		),
		mcp.WithArray("scanners",
			mcp.Description("Restrict the review to these scanners"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("failOn",
			mcp.Description("Severity gate for methodology compliance"),
			mcp.Enum(
				string(types.SeverityCritical),
				string(types.SeverityHigh),
				string(types.SeverityMedium),
				string(types.SeverityLow),
				string(types.SeverityInfo),
			),
		),
		mcp.WithString("correlationId",
			mcp.Description("Caller-supplied id echoed in the notification; generated when omitted"),
		),
	)
	b.mcp.AddTool(reviewTool, b.handleReviewFile)

	listTool := mcp.NewTool(config.MethodScannersList,
		mcp.WithDescription("List catalogued scanners and whether each is available"),
	)
	b.mcp.AddTool(listTool, b.handleScannersList)
}

func (b *MCPBridge) onRegister(_ context.Context, cs mcpserver.ClientSession) {
	id, err := b.srv.sessions.Open()
	if err != nil {
		b.logger.Error("Failed to open session for MCP client", "mcp_session_id", cs.SessionID(), "error", err)
		return
	}
	sub, err := b.srv.sessions.Subscribe(id)
	if err != nil {
		b.logger.Error("Failed to subscribe MCP client", "session_id", id, "error", err)
		b.srv.sessions.Close(id)
		return
	}

	link := &mcpLink{sessionID: id, sub: sub}
	b.mu.Lock()
	b.links[cs.SessionID()] = link
	b.mu.Unlock()

	b.logger.Info("MCP client connected", "mcp_session_id", cs.SessionID(), "session_id", id)
	go b.forward(cs.SessionID(), link)
}

func (b *MCPBridge) onUnregister(_ context.Context, cs mcpserver.ClientSession) {
	b.mu.Lock()
	link, ok := b.links[cs.SessionID()]
	delete(b.links, cs.SessionID())
	b.mu.Unlock()
	if !ok {
		return
	}
	link.sub.Close()
	b.srv.sessions.Close(link.sessionID)
	b.logger.Info("MCP client disconnected", "mcp_session_id", cs.SessionID(), "session_id", link.sessionID)
}

func (b *MCPBridge) link(ctx context.Context) (*mcpLink, bool) {
	cs := mcpserver.ClientSessionFromContext(ctx)
	if cs == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok := b.links[cs.SessionID()]
	return link, ok
}

// rebind attaches the calling MCP client to sessionID in place of old and
// starts forwarding its results
func (b *MCPBridge) rebind(ctx context.Context, old *mcpLink, sessionID string) error {
	cs := mcpserver.ClientSessionFromContext(ctx)
	if cs == nil {
		return fmt.Errorf("no MCP session to rebind")
	}
	sub, err := b.srv.sessions.Subscribe(sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session %s: %w", sessionID, err)
	}

	link := &mcpLink{sessionID: sessionID, sub: sub}
	b.mu.Lock()
	current, ok := b.links[cs.SessionID()]
	if !ok || current != old {
		b.mu.Unlock()
		sub.Close()
		return fmt.Errorf("MCP session %s is no longer bound", cs.SessionID())
	}
	b.links[cs.SessionID()] = link
	b.mu.Unlock()

	old.sub.Close()
	b.logger.Info("MCP client rebound to new session",
		"mcp_session_id", cs.SessionID(),
		"previous_session_id", old.sessionID,
		"session_id", sessionID)
	go b.forward(cs.SessionID(), link)
	return nil
}

// forward pushes every completed message to the MCP client until the
// session closes
func (b *MCPBridge) forward(mcpSessionID string, link *mcpLink) {
	for {
		select {
		case <-link.sub.Notify:
			msgs, err := b.srv.sessions.Drain(link.sessionID)
			if err != nil {
				return
			}
			for _, m := range msgs {
				b.notify(mcpSessionID, link.sessionID, m)
			}
		case <-link.sub.Done:
			return
		}
	}
}

func (b *MCPBridge) notify(mcpSessionID, sessionID string, m session.Message) {
	params := map[string]any{
		"sessionId":     sessionID,
		"correlationId": m.CorrelationID,
		"sequence":      m.Sequence,
	}
	if m.Error != nil {
		params["error"] = m.Error
	} else {
		params["result"] = m.Result
	}
	if m.Truncated {
		params["truncated"] = true
		params["dropped"] = m.Dropped
	}

	if err := b.mcp.SendNotificationToSpecificClient(mcpSessionID, config.NotificationReviewResult, params); err != nil {
		b.logger.Warn("Failed to send MCP notification",
			"mcp_session_id", mcpSessionID,
			"correlation_id", m.CorrelationID,
			"error", err)
		return
	}
	b.srv.audit.LogDelivery(context.Background(), deliveryEntry(sessionID, m, transportMCP))
}

func (b *MCPBridge) handleReviewFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	link, ok := b.link(ctx)
	if !ok {
		return mcp.NewToolResultError("review.file needs an MCP session to deliver its result"), nil
	}

	correlationID := request.GetString("correlationId", "")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	params, err := json.Marshal(types.ReviewRequest{
		File:     file,
		Content:  content,
		Scanners: request.GetStringSlice("scanners", nil),
		FailOn:   types.Severity(request.GetString("failOn", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := b.srv.Submit(ctx, SubmitRequest{
		SessionID:     link.sessionID,
		CorrelationID: correlationID,
		Method:        config.MethodReviewFile,
		Params:        params,
	}, transportMCP)
	if err != nil {
		_, body := errorResponse(err, link.sessionID)
		return mcp.NewToolResultError(body.Message), nil
	}
	if resp.SessionCreated {
		// the bound session was closed out from under this client
		if err := b.rebind(ctx, link, resp.SessionID); err != nil {
			b.srv.sessions.Close(resp.SessionID)
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf(config.MsgReviewQueued, correlationID, file)), nil
}

func (b *MCPBridge) handleScannersList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	call, err := b.srv.methods.Prepare(config.MethodScannersList, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := call(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
