package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitre-mcp/mini-mcp-client/internal/jsonrpc"
	"github.com/mitre-mcp/mini-mcp-client/internal/mcptest"
	"github.com/mitre-mcp/mini-mcp-client/internal/sse"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tactics(args map[string]interface{}) (interface{}, *jsonrpc.Error) {
	return map[string]interface{}{
		"domain":  args["domain"],
		"tactics": []map[string]interface{}{{"name": "Persistence"}},
	}, nil
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(Config{Endpoint: endpoint, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_CallTool_JSONBody(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()
	body := `{"jsonrpc":"2.0","id":1,"result":{"tactics":[{"name":"Persistence"}]}}`
	srv.ReplyRaw("application/json", body)

	c := newTestClient(t, srv.Endpoint())
	resp, err := c.CallTool(context.Background(), "get_tactics", map[string]interface{}{"domain": "enterprise-attack"})
	require.NoError(t, err)

	assert.Nil(t, resp.Error)
	assert.Equal(t, body, string(resp.Raw))
	assert.JSONEq(t, `{"tactics":[{"name":"Persistence"}]}`, string(resp.Result))
}

func TestClient_CallTool_EventStreamBody(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()
	srv.ReplyRaw("text/event-stream", "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tactics\":[]}}\n")

	c := newTestClient(t, srv.Endpoint())
	resp, err := c.CallTool(context.Background(), "get_tactics", map[string]interface{}{"domain": "enterprise-attack"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tactics":[]}`, string(resp.Result))
}

func TestClient_CallTool_SameOutcomeForBothFramings(t *testing.T) {
	var results []string
	for _, mode := range []mcptest.Mode{mcptest.ModeJSON, mcptest.ModeSSE} {
		srv := mcptest.NewServer(mcptest.WithMode(mode), mcptest.WithTool("get_tactics", tactics))
		c := newTestClient(t, srv.Endpoint())

		resp, err := c.CallTool(context.Background(), "get_tactics", map[string]interface{}{"domain": "mobile-attack"})
		srv.Close()
		require.NoError(t, err)
		results = append(results, string(resp.Result))
	}
	assert.JSONEq(t, results[0], results[1])
	assert.JSONEq(t, `{"domain":"mobile-attack","tactics":[{"name":"Persistence"}]}`, results[0])
}

func TestClient_CallTool_RemoteError(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()
	srv.ReplyRaw("application/json", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`)

	c := newTestClient(t, srv.Endpoint())
	resp, err := c.CallTool(context.Background(), "get_tactics", nil)
	require.Error(t, err)
	assert.Nil(t, resp)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, "Method not found", rpcErr.Message)

	var te *TransportError
	var fe *FramingError
	assert.False(t, errors.As(err, &te))
	assert.False(t, errors.As(err, &fe))
}

func TestClient_CallTool_UnknownToolIsProtocolError(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithMode(mcptest.ModeSSE))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	_, err := c.CallTool(context.Background(), "no_such_tool", nil)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
}

func TestClient_CallTool_Unreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	endpoint := dead.URL + "/mcp"
	dead.Close()

	c := newTestClient(t, endpoint)
	_, err := c.CallTool(context.Background(), "get_tactics", nil)
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.Error(t, te.Unwrap())

	var fe *FramingError
	assert.False(t, errors.As(err, &fe))

	_, ok := c.SessionID()
	assert.False(t, ok)
	assert.Equal(t, StateUnconnected, c.State())
}

func TestClient_RequestIDsStrictlyIncrease(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	for i := 0; i < 3; i++ {
		_, err := c.CallTool(context.Background(), "get_tactics", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		MethodInitialize, MethodInitialized,
		MethodToolsCall, MethodToolsCall, MethodToolsCall,
	}, srv.Methods())

	var callIDs []int64
	seen := map[int64]bool{}
	for _, r := range srv.Requests() {
		if !r.HasID {
			continue
		}
		assert.False(t, seen[r.ID], "id %d reused", r.ID)
		seen[r.ID] = true
		switch r.Method {
		case MethodInitialize:
			// reserved after the first call's id
			assert.Equal(t, int64(2), r.ID)
		case MethodToolsCall:
			callIDs = append(callIDs, r.ID)
		}
	}
	assert.Equal(t, []int64{1, 3, 4}, callIDs)
}

func TestClient_FirstCallMatchesCannedID(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()
	srv.ReplyRaw("application/json", `{"jsonrpc":"2.0","id":1,"result":{"tactics":[{"name":"Persistence"}]}}`)

	var logs bytes.Buffer
	c, err := NewClient(Config{
		Endpoint: srv.Endpoint(),
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CallTool(context.Background(), "get_tactics", map[string]interface{}{"domain": "enterprise-attack"})
	require.NoError(t, err)

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, MethodToolsCall, last.Method)
	assert.Equal(t, int64(1), last.ID)
	assert.NotContains(t, logs.String(), "does not match")
}

func TestClient_RejectedInitializedNotification(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()
	srv.FailNotifications(http.StatusMethodNotAllowed)

	var logs bytes.Buffer
	c, err := NewClient(Config{
		Endpoint: srv.Endpoint(),
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)
	assert.NotNil(t, resp.Result)
	assert.Equal(t, StateSessionActive, c.State())
	_, ok := c.SessionID()
	assert.True(t, ok)
	assert.Contains(t, logs.String(), "initialized notification rejected")
}

func TestClient_SessionAttachedAfterInitialize(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	assert.Equal(t, StateUnconnected, c.State())

	_, err := c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)
	_, err = c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)

	sessions := srv.Sessions()
	require.Len(t, sessions, 1)

	sid, ok := c.SessionID()
	require.True(t, ok)
	assert.Equal(t, sessions[0], sid)
	assert.Equal(t, StateSessionActive, c.State())

	reqs := srv.Requests()
	require.Len(t, reqs, 4)
	assert.Empty(t, reqs[0].SessionID, "initialize carries no session")
	for _, r := range reqs[1:] {
		assert.Equal(t, sid, r.SessionID, "method %s", r.Method)
	}
}

func TestClient_NoSessionHeader(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithoutSession(), mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	for i := 0; i < 3; i++ {
		resp, err := c.CallTool(context.Background(), "get_tactics", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Result)
	}

	_, ok := c.SessionID()
	assert.False(t, ok)
	assert.Equal(t, StateSessionActive, c.State())

	inits := 0
	for _, m := range srv.Methods() {
		if m == MethodInitialize {
			inits++
		}
	}
	assert.Equal(t, 1, inits)
	for _, r := range srv.Requests() {
		assert.Empty(t, r.SessionID)
	}
}

func TestClient_SendsRequiredHeaders(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	_, err := c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)

	for _, r := range srv.Requests() {
		assert.Equal(t, "application/json, text/event-stream", r.Accept)
		assert.Equal(t, "application/json", r.ContentType)
	}
}

func TestClient_InitializeParams(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	require.NoError(t, c.Initialize(context.Background()))

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, MethodInitialize, reqs[0].Method)
	assert.JSONEq(t,
		`{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"mini-mcp-client","version":"1.0.0"}}`,
		string(reqs[0].Params))
}

func TestClient_InitializeOnlyOnce(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	require.NoError(t, c.Initialize(context.Background()))
	sid, _ := c.SessionID()
	require.NoError(t, c.Initialize(context.Background()))

	again, _ := c.SessionID()
	assert.Equal(t, sid, again)
	assert.Len(t, srv.Sessions(), 1)
}

func TestClient_NilArgumentsSentAsEmptyObject(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	_, err := c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.JSONEq(t, `{"name":"get_tactics","arguments":{}}`, string(last.Params))
}

func TestClient_InitializeHTTPError(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()
	srv.FailWith(http.StatusServiceUnavailable)

	c := newTestClient(t, srv.Endpoint())
	_, err := c.CallTool(context.Background(), "get_tactics", nil)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Contains(t, te.Error(), "HTTP 503")
	assert.Equal(t, StateUnconnected, c.State())
	_, ok := c.SessionID()
	assert.False(t, ok)

	// Nothing is retried inside a call; the next call bootstraps again.
	assert.Equal(t, []string{MethodInitialize}, srv.Methods())
	srv.FailWith(0)
	_, err = c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)
	assert.Equal(t, StateSessionActive, c.State())
}

func TestClient_ToolCallHTTPErrorKeepsSession(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	require.NoError(t, c.Initialize(context.Background()))
	sid, _ := c.SessionID()

	srv.FailWith(http.StatusInternalServerError)
	_, err := c.CallTool(context.Background(), "get_tactics", nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))

	after, _ := c.SessionID()
	assert.Equal(t, sid, after)
	assert.Equal(t, StateSessionActive, c.State())
}

func TestClient_FramingErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantIs      error
	}{
		{"event stream without data", "text/event-stream", "event: message\n\n", sse.ErrNoData},
		{"event stream bad json", "text/event-stream", "data: {oops\n", nil},
		{"json body not json", "application/json", "<html>oops</html>", nil},
		{"both result and error", "application/json", `{"jsonrpc":"2.0","id":2,"result":{},"error":{"code":1,"message":"x"}}`, jsonrpc.ErrBothMembers},
		{"neither result nor error", "application/json", `{"jsonrpc":"2.0","id":2}`, jsonrpc.ErrNeitherMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mcptest.NewServer()
			defer srv.Close()
			srv.ReplyRaw(tt.contentType, tt.body)

			c := newTestClient(t, srv.Endpoint())
			_, err := c.CallTool(context.Background(), "get_tactics", nil)
			require.Error(t, err)

			var fe *FramingError
			require.True(t, errors.As(err, &fe), "got %T: %v", err, err)
			assert.Equal(t, tt.contentType, fe.ContentType)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}

			var te *TransportError
			var rpcErr *jsonrpc.Error
			assert.False(t, errors.As(err, &te))
			assert.False(t, errors.As(err, &rpcErr))
		})
	}
}

func TestClient_ListTools(t *testing.T) {
	srv := mcptest.NewServer(
		mcptest.WithMode(mcptest.ModeSSE),
		mcptest.WithTool("get_tactics", tactics),
		mcptest.WithTool("get_groups", tactics),
	)
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	resp, err := c.ListTools(context.Background())
	require.NoError(t, err)

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "get_groups", result.Tools[0].Name)
	assert.Equal(t, "get_tactics", result.Tools[1].Name)
}

func TestClient_Close(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "http://127.0.0.1:1/mcp", Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	_, err = c.CallTool(context.Background(), "get_tactics", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Probe(context.Background()), ErrClientClosed)
}

func TestClient_CloseAfterUse(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTool("get_tactics", tactics))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.Endpoint(), Logger: quietLogger()})
	require.NoError(t, err)
	_, err = c.CallTool(context.Background(), "get_tactics", nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestClient_Probe(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.Endpoint())
	require.NoError(t, c.Probe(context.Background()))

	srv.SetProbeStatus(http.StatusNotFound)
	require.NoError(t, c.Probe(context.Background()))

	srv.SetProbeStatus(http.StatusBadGateway)
	err := c.Probe(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)

	// Probing never touches the MCP endpoint or the session.
	assert.Empty(t, srv.Requests())
	assert.Equal(t, StateUnconnected, c.State())
}

func TestClient_ProbeUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	endpoint := dead.URL + "/mcp"
	dead.Close()

	c := newTestClient(t, endpoint)
	var te *TransportError
	assert.True(t, errors.As(c.Probe(context.Background()), &te))
}

func TestNewClient_Validation(t *testing.T) {
	for _, endpoint := range []string{"", "localhost:8000/mcp", "ftp://host/mcp", "http:///mcp", "http://[::1"} {
		_, err := NewClient(Config{Endpoint: endpoint})
		assert.Error(t, err, "endpoint %q", endpoint)
	}

	c, err := NewClient(Config{Endpoint: "http://localhost:8000/mcp"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/mcp", c.Endpoint())
	assert.Equal(t, DefaultRequestTimeout, c.requestTimeout)
	assert.Equal(t, DefaultProbeTimeout, c.probeTimeout)
	assert.Equal(t, "http://localhost:8000/", c.probeURL)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unconnected", StateUnconnected.String())
	assert.Equal(t, "session-pending", StateSessionPending.String())
	assert.Equal(t, "session-active", StateSessionActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestClient_InitializeMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(SessionHeader, "abc")
		_, _ = io.WriteString(w, "event: message\n\n")
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/mcp")
	err := c.Initialize(context.Background())

	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, sse.ErrNoData)
	assert.Equal(t, StateUnconnected, c.State())
	_, ok := c.SessionID()
	assert.False(t, ok, "session is only stored after a decodable reply")
}
