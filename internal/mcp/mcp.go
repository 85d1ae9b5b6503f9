// Package mcp implements the client side of the MCP streamable HTTP
// transport: session bootstrap, JSON-RPC request correlation and
// response decoding for tool invocations.
package mcp

// ProtocolVersion is the MCP revision advertised during initialization.
const ProtocolVersion = "2024-11-05"

// SessionHeader carries the session token issued at initialization.
// HTTP header names are case-insensitive.
const SessionHeader = "mcp-session-id"

// Media types sent in the Accept header. Servers refuse POSTs that do
// not accept both, even though most replies are plain JSON.
const (
	MediaTypeJSON        = "application/json"
	MediaTypeEventStream = "text/event-stream"
	AcceptHeader         = MediaTypeJSON + ", " + MediaTypeEventStream
)

// JSON-RPC methods used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsCall   = "tools/call"
	MethodToolsList   = "tools/list"
)

// Implementation identifies a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params member of an initialize request.
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      Implementation         `json:"clientInfo"`
}

// InitializeResult is the part of the initialize result the client logs.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// CallToolParams is the params member of a tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}
