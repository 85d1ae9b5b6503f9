package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mitre-mcp/mini-mcp-client/internal/buildinfo"
	"github.com/mitre-mcp/mini-mcp-client/internal/httpkit"
	"github.com/mitre-mcp/mini-mcp-client/internal/jsonrpc"
	"github.com/mitre-mcp/mini-mcp-client/internal/sse"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultProbeTimeout   = 5 * time.Second

	maxResponseBytes  = 10 << 20
	maxErrorBodyBytes = 512
	debugBodyBytes    = 500
)

// State is the session lifecycle of a Client.
type State int

const (
	// StateUnconnected: no initialize exchange has succeeded yet.
	StateUnconnected State = iota
	// StateSessionPending: an initialize exchange is in flight.
	StateSessionPending
	// StateSessionActive: initialize succeeded. A session token may or
	// may not have been issued.
	StateSessionActive
	// StateClosed: Close was called.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateSessionPending:
		return "session-pending"
	case StateSessionActive:
		return "session-active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config configures a Client.
type Config struct {
	// Endpoint is the MCP URL, e.g. http://localhost:8000/mcp.
	Endpoint string

	// ClientInfo is sent in the initialize request. Defaults to the
	// build name and version.
	ClientInfo Implementation

	// RequestTimeout bounds every JSON-RPC exchange. Defaults to 30s.
	RequestTimeout time.Duration

	// ProbeTimeout bounds Probe. Defaults to 5s.
	ProbeTimeout time.Duration

	// HTTPClient replaces the client built by httpkit.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client invokes tools on one MCP endpoint. It owns the request id
// counter and the session token; both change only through its methods.
//
// A Client is not safe for concurrent use. Calls must be serialized by
// the caller, or independent clients used.
type Client struct {
	endpoint       string
	probeURL       string
	info           Implementation
	requestTimeout time.Duration
	probeTimeout   time.Duration
	logger         *slog.Logger

	http       *http.Client
	ownsClient bool

	lastID    int64
	state     State
	sessionID string
}

// NewClient validates cfg and returns an unconnected client. No network
// traffic happens until the first call.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: scheme must be http or https", cfg.Endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: missing host", cfg.Endpoint)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	info := cfg.ClientInfo
	if info.Name == "" {
		info = Implementation{Name: buildinfo.Name, Version: buildinfo.Version}
	}
	c := &Client{
		endpoint:       u.String(),
		probeURL:       u.Scheme + "://" + u.Host + "/",
		info:           info,
		requestTimeout: cfg.RequestTimeout,
		probeTimeout:   cfg.ProbeTimeout,
		logger:         logger.With("endpoint", u.String()),
		http:           cfg.HTTPClient,
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = DefaultProbeTimeout
	}
	return c, nil
}

// Endpoint returns the URL every request is posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// State returns the current session state.
func (c *Client) State() State { return c.state }

// SessionID returns the session token and whether one was issued.
func (c *Client) SessionID() (string, bool) {
	return c.sessionID, c.sessionID != ""
}

// Initialize performs the initialize exchange and, on success, records
// the session token from the response header. A missing header is not an
// error. Initialize is a no-op once a session is active.
//
// Besides non-2xx statuses (*TransportError), a 2xx reply whose body is
// not a valid JSON-RPC envelope fails with *FramingError, and a remote
// error with *jsonrpc.Error. A rejected notifications/initialized is
// logged and does not fail the bootstrap.
func (c *Client) Initialize(ctx context.Context) error {
	switch c.state {
	case StateClosed:
		return ErrClientClosed
	case StateSessionActive:
		return nil
	}
	c.state = StateSessionPending

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      c.info,
	}
	resp, header, err := c.exchange(ctx, c.nextID(), MethodInitialize, params, "")
	if err != nil {
		c.state = StateUnconnected
		return fmt.Errorf("initialize: %w", err)
	}

	sid := header.Get(SessionHeader)
	if err := c.notify(ctx, MethodInitialized, sid); err != nil {
		c.logger.Warn("initialized notification rejected", "error", err)
	}
	c.sessionID = sid
	c.state = StateSessionActive

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.logger.Warn("unexpected initialize result", "error", err)
	}
	c.logger.Info("MCP session initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
		"session", sid != "",
	)
	return nil
}

// CallTool invokes the named tool and returns the full response
// envelope. The first call on a client performs Initialize.
//
// Errors are a *TransportError, a *FramingError or, when the server
// answered with a JSON-RPC error, a *jsonrpc.Error.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*jsonrpc.Response, error) {
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	return c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: arguments})
}

// ListTools returns the tools/list response envelope.
func (c *Client) ListTools(ctx context.Context) (*jsonrpc.Response, error) {
	return c.call(ctx, MethodToolsList, nil)
}

// Probe checks that the server answers HTTP at all. Any status below 500
// counts as reachable.
func (c *Client) Probe(ctx context.Context) error {
	if c.state == StateClosed {
		return ErrClientClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.probeURL, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return &TransportError{Method: http.MethodGet, URL: c.probeURL, Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode >= http.StatusInternalServerError {
		return &TransportError{Method: http.MethodGet, URL: c.probeURL, StatusCode: resp.StatusCode}
	}
	return nil
}

// Close releases pooled connections. It is idempotent and safe on a
// client that never sent a request.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	if c.http != nil {
		httpkit.CloseIdle(c.http)
		if c.ownsClient {
			c.http = nil
		}
	}
	return nil
}

// call reserves the request id before any lazy initialize, so the first
// tool call on a fresh client carries id 1 and initialize the next one.
func (c *Client) call(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	if c.state == StateClosed {
		return nil, ErrClientClosed
	}
	id := c.nextID()
	if c.state != StateSessionActive {
		if err := c.Initialize(ctx); err != nil {
			return nil, err
		}
	}
	resp, _, err := c.exchange(ctx, id, method, params, c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

func (c *Client) client() *http.Client {
	if c.http == nil {
		c.http = httpkit.NewClient(
			httpkit.WithTimeout(c.requestTimeout),
			httpkit.WithLogger(c.logger),
		)
		c.ownsClient = true
	}
	return c.http
}

func (c *Client) nextID() int64 {
	c.lastID++
	return c.lastID
}

// exchange posts one request and decodes its response. A JSON-RPC error
// in a well-formed response is returned as *jsonrpc.Error.
func (c *Client) exchange(ctx context.Context, id int64, method string, params interface{}, sessionID string) (*jsonrpc.Response, http.Header, error) {
	req := jsonrpc.NewRequest(id, method, params)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("sending request",
		"method", method,
		"id", req.ID,
		"session", sessionID,
		"payload", string(body),
	)

	httpResp, err := c.post(ctx, body, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, &TransportError{Method: http.MethodPost, URL: c.endpoint, Err: fmt.Errorf("read response body: %w", err)}
	}

	contentType := httpResp.Header.Get("Content-Type")
	c.logger.Debug("received response",
		"method", method,
		"status", httpResp.StatusCode,
		"content_type", contentType,
		"body", truncate(respBody, debugBodyBytes),
	)
	c.logger.Log(ctx, slog.Level(-8), "response body", "method", method, "body", string(respBody)) // config.LevelTrace

	resp, err := sse.Decode(contentType, respBody)
	if err != nil {
		return nil, nil, &FramingError{Method: method, ContentType: contentType, Err: err}
	}
	if !resp.IDEquals(req.ID) {
		c.logger.Warn("response id does not match request",
			"method", method,
			"want", req.ID,
			"got", string(resp.ID),
		)
	}
	if resp.Error != nil {
		return nil, nil, resp.Error
	}
	return resp, httpResp.Header, nil
}

// notify posts a notification. Any 2xx status is accepted; the body is
// discarded.
func (c *Client) notify(ctx context.Context, method, sessionID string) error {
	body, err := json.Marshal(jsonrpc.NewNotification(method, nil))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	httpResp, err := c.post(ctx, body, sessionID)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(httpResp.Body, 1<<20)
	return nil
}

// post sends body and returns the response only for 2xx statuses.
func (c *Client) post(ctx context.Context, body []byte, sessionID string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", MediaTypeJSON)
	httpReq.Header.Set("Accept", AcceptHeader)
	if sessionID != "" {
		httpReq.Header.Set(SessionHeader, sessionID)
	}

	httpResp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, URL: c.endpoint, Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, maxErrorBodyBytes)
		return nil, &TransportError{
			Method:     http.MethodPost,
			URL:        c.endpoint,
			StatusCode: httpResp.StatusCode,
			Body:       errBody,
			Err:        errors.New(http.StatusText(httpResp.StatusCode)),
		}
	}
	return httpResp, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
