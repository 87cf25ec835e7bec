package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
)

func TestWebSocket_SubmitAndReceive(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Start()
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	id := openSession(t, f.srv.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"correlationId": "ws-1",
		"method":        config.MethodReviewFile,
		"params":        map[string]any{"file": "app.py", "content": "x = 1\n"},
	}))

	// the ack and the result race; collect both
	seen := map[string]wsFrame{}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(seen) < 2 {
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		seen[frame.Type] = frame
	}

	require.Contains(t, seen, "ack")
	assert.Equal(t, id, seen["ack"].Ack.SessionID)
	assert.Equal(t, "accepted", seen["ack"].Ack.Status)

	require.Contains(t, seen, "result")
	require.NotNil(t, seen["result"].Message)
	assert.Equal(t, "ws-1", seen["result"].Message.CorrelationID)
}

func TestWebSocket_RejectsIncompleteFrame(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	id := openSession(t, f.srv.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"method": config.MethodReviewFile}))

	var frame wsFrame
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "rejected", frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, config.CodeInvalidRequest, frame.Error.Code)
}

func TestWebSocket_UnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// fakeClientSession stands in for an MCP SSE connection
type fakeClientSession struct {
	id string
	ch chan mcp.JSONRPCNotification
}

func (f *fakeClientSession) Initialize()       {}
func (f *fakeClientSession) Initialized() bool { return true }
func (f *fakeClientSession) SessionID() string { return f.id }

func (f *fakeClientSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return f.ch
}

func TestMCPBridge_ReviewFileNotifies(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Start()
	bridge := f.srv.MCP()

	client := &fakeClientSession{id: "mcp-1", ch: make(chan mcp.JSONRPCNotification, 4)}
	require.NoError(t, bridge.Server().RegisterSession(context.Background(), client))
	assert.Equal(t, 1, f.sessions.Count())

	ctx := bridge.Server().WithContext(context.Background(), client)
	req := mcp.CallToolRequest{}
	req.Params.Name = config.MethodReviewFile
	req.Params.Arguments = map[string]any{
		"file":          "app.py",
		"content":       "print(1)\n",
		"correlationId": "mcp-c1",
	}

	res, err := bridge.handleReviewFile(ctx, req)
	require.NoError(t, err)
	require.False(t, res.IsError)

	select {
	case n := <-client.ch:
		assert.Equal(t, config.NotificationReviewResult, n.Method)
		assert.Equal(t, "mcp-c1", n.Params.AdditionalFields["correlationId"])
		assert.NotNil(t, n.Params.AdditionalFields["result"])
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a review result notification")
	}

	bridge.Server().UnregisterSession(context.Background(), client.id)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestMCPBridge_ReviewFileAfterSessionClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Start()
	bridge := f.srv.MCP()

	client := &fakeClientSession{id: "mcp-2", ch: make(chan mcp.JSONRPCNotification, 4)}
	require.NoError(t, bridge.Server().RegisterSession(context.Background(), client))
	bridge.mu.Lock()
	first, ok := bridge.links[client.id]
	bridge.mu.Unlock()
	require.True(t, ok)
	require.True(t, f.sessions.Close(first.sessionID))

	ctx := bridge.Server().WithContext(context.Background(), client)
	req := mcp.CallToolRequest{}
	req.Params.Name = config.MethodReviewFile
	req.Params.Arguments = map[string]any{
		"file":          "app.py",
		"content":       "print(1)\n",
		"correlationId": "mcp-c2",
	}

	res, err := bridge.handleReviewFile(ctx, req)
	require.NoError(t, err)
	require.False(t, res.IsError)

	select {
	case n := <-client.ch:
		assert.Equal(t, "mcp-c2", n.Params.AdditionalFields["correlationId"])
		assert.NotEqual(t, first.sessionID, n.Params.AdditionalFields["sessionId"])
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a review result notification on the replacement session")
	}

	bridge.mu.Lock()
	rebound := bridge.links[client.id]
	bridge.mu.Unlock()
	assert.NotEqual(t, first.sessionID, rebound.sessionID)
	assert.Equal(t, 1, f.sessions.Count())

	bridge.Server().UnregisterSession(context.Background(), client.id)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestMCPBridge_ReviewFileWithoutSession(t *testing.T) {
	f := newFixture(t, nil)

	req := mcp.CallToolRequest{}
	req.Params.Name = config.MethodReviewFile
	req.Params.Arguments = map[string]any{"file": "app.py", "content": ""}

	res, err := f.srv.MCP().handleReviewFile(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPBridge_ReviewFileMissingArguments(t *testing.T) {
	f := newFixture(t, nil)

	req := mcp.CallToolRequest{}
	req.Params.Name = config.MethodReviewFile
	req.Params.Arguments = map[string]any{"content": "x"}

	res, err := f.srv.MCP().handleReviewFile(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPBridge_ScannersList(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.MCP().handleScannersList(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "bandit")
}

func TestServe_HTTPAndGRPCHealth(t *testing.T) {
	f := newFixture(t, nil)

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, httpLis, grpcLis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + httpLis.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer checkCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
