// Package mcptest provides an in-process MCP streamable HTTP endpoint for
// tests. It answers initialize, tools/list and tools/call with either
// plain JSON or SSE-framed bodies and records every request it sees.
package mcptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mitre-mcp/mini-mcp-client/internal/jsonrpc"
)

const sessionHeader = "Mcp-Session-Id"

// Mode selects how responses are framed.
type Mode int

const (
	ModeJSON Mode = iota
	ModeSSE
)

// ToolFunc produces the result member of a tools/call response, or a
// JSON-RPC error.
type ToolFunc func(args map[string]interface{}) (interface{}, *jsonrpc.Error)

// Request is one POST the server received.
type Request struct {
	Method      string
	ID          int64
	HasID       bool
	SessionID   string
	Accept      string
	ContentType string
	Params      json.RawMessage
}

type rawReply struct {
	status      int
	contentType string
	body        string
}

// Server is a fake MCP endpoint mounted at /{mount}.
type Server struct {
	*httptest.Server

	mount string

	mu           sync.Mutex
	mode         Mode
	issueSession bool
	tools        map[string]ToolFunc
	sessions     map[string]bool
	requests     []Request
	failStatus   int
	notifyStatus int
	probeStatus  int
	raw          *rawReply
}

// Option configures a Server.
type Option func(*Server)

// WithMount sets the path the endpoint is served under. Default "mcp".
func WithMount(mount string) Option {
	return func(s *Server) { s.mount = strings.Trim(mount, "/") }
}

// WithMode sets the response framing. Default ModeJSON.
func WithMode(m Mode) Option {
	return func(s *Server) { s.mode = m }
}

// WithoutSession stops the server from issuing a session header.
func WithoutSession() Option {
	return func(s *Server) { s.issueSession = false }
}

// WithTool registers a tool handler.
func WithTool(name string, fn ToolFunc) Option {
	return func(s *Server) { s.tools[name] = fn }
}

// NewServer starts a Server. Callers must Close it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		mount:        "mcp",
		issueSession: true,
		tools:        make(map[string]ToolFunc),
		sessions:     make(map[string]bool),
		probeStatus:  http.StatusOK,
	}
	for _, o := range opts {
		o(s)
	}

	router := mux.NewRouter()
	router.HandleFunc("/"+s.mount, s.HandleMessage).Methods(http.MethodPost)
	router.HandleFunc("/", s.handleProbe).Methods(http.MethodGet)

	s.Server = httptest.NewServer(router)
	return s
}

// Endpoint returns the full MCP URL.
func (s *Server) Endpoint() string {
	return s.URL + "/" + s.mount
}

// SetMode switches response framing for subsequent requests.
func (s *Server) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// FailWith makes every POST answer with the given HTTP status. Zero
// restores normal behavior.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// FailNotifications makes notifications answer with the given HTTP
// status instead of 202. Zero restores normal behavior.
func (s *Server) FailNotifications(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyStatus = status
}

// SetProbeStatus sets the status returned for GET /.
func (s *Server) SetProbeStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeStatus = status
}

// ReplyRaw makes tools/call and tools/list answer with exactly this
// content type and body instead of a generated envelope.
func (s *Server) ReplyRaw(contentType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = &rawReply{status: http.StatusOK, contentType: contentType, body: body}
}

// Requests returns a copy of the recorded requests in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Methods returns the recorded JSON-RPC methods in arrival order.
func (s *Server) Methods() []string {
	var out []string
	for _, r := range s.Requests() {
		out = append(out, r.Method)
	}
	return out
}

// Sessions returns the session tokens issued so far.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.probeStatus
	s.mu.Unlock()
	w.WriteHeader(status)
}

type incoming struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// HandleMessage serves one JSON-RPC POST.
func (s *Server) HandleMessage(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}
	r.Body.Close()

	var msg incoming
	if err := json.Unmarshal(bodyBytes, &msg); err != nil {
		http.Error(w, "Error unmarshalling request body", http.StatusBadRequest)
		return
	}

	rec := Request{
		Method:      msg.Method,
		SessionID:   r.Header.Get(sessionHeader),
		Accept:      r.Header.Get("Accept"),
		ContentType: r.Header.Get("Content-Type"),
		Params:      msg.Params,
	}
	if msg.ID != nil {
		rec.HasID = json.Unmarshal(*msg.ID, &rec.ID) == nil
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	failStatus := s.failStatus
	notifyStatus := s.notifyStatus
	mode := s.mode
	raw := s.raw
	s.mu.Unlock()

	if failStatus != 0 {
		http.Error(w, http.StatusText(failStatus), failStatus)
		return
	}
	if !strings.Contains(rec.Accept, "application/json") || !strings.Contains(rec.Accept, "text/event-stream") {
		http.Error(w, "Not Acceptable: client must accept application/json and text/event-stream", http.StatusNotAcceptable)
		return
	}

	if msg.ID == nil {
		if notifyStatus != 0 {
			http.Error(w, http.StatusText(notifyStatus), notifyStatus)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if msg.Method != "initialize" && rec.SessionID != "" && !s.knownSession(rec.SessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	var result interface{}
	var rpcErr *jsonrpc.Error
	switch msg.Method {
	case "initialize":
		if s.issueSession {
			id := uuid.NewString()
			s.mu.Lock()
			s.sessions[id] = true
			s.mu.Unlock()
			w.Header().Set(sessionHeader, id)
		}
		result = map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      map[string]interface{}{"name": "mitre-mcp", "version": "test"},
		}
	case "tools/list", "tools/call":
		if raw != nil {
			w.Header().Set("Content-Type", raw.contentType)
			w.WriteHeader(raw.status)
			_, _ = io.WriteString(w, raw.body)
			return
		}
		if msg.Method == "tools/list" {
			result = s.toolList()
		} else {
			result, rpcErr = s.callTool(msg.Params)
		}
	default:
		rpcErr = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
	}

	s.reply(w, mode, *msg.ID, result, rpcErr)
}

func (s *Server) knownSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) toolList() interface{} {
	s.mu.Lock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	tools := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		tools = append(tools, map[string]interface{}{
			"name":        name,
			"inputSchema": map[string]interface{}{"type": "object"},
		})
	}
	return map[string]interface{}{"tools": tools}
}

func (s *Server) callTool(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "Invalid params"}
	}
	s.mu.Lock()
	fn, ok := s.tools[p.Name]
	s.mu.Unlock()
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: fmt.Sprintf("Unknown tool: %s", p.Name)}
	}
	return fn(p.Arguments)
}

func (s *Server) reply(w http.ResponseWriter, mode Mode, id json.RawMessage, result interface{}, rpcErr *jsonrpc.Error) {
	envelope := map[string]interface{}{
		"jsonrpc": jsonrpc.Version,
		"id":      id,
	}
	if rpcErr != nil {
		envelope["error"] = rpcErr
	} else {
		envelope["result"] = result
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		http.Error(w, "Error marshalling response", http.StatusInternalServerError)
		return
	}

	if mode == ModeSSE {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", b)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
