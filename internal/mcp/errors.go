package mcp

import (
	"errors"
	"fmt"
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("mcp client is closed")

// TransportError reports a request that failed before a response body
// could be decoded: the connection failed, timed out, or the server
// answered with a non-2xx status.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int    // zero when no response was received
	Body       string // leading bytes of a non-2xx body
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("%s %s: server returned HTTP %d", e.Method, e.URL, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FramingError reports a response body that could not be turned into a
// JSON-RPC response.
type FramingError struct {
	Method      string
	ContentType string
	Err         error
}

func (e *FramingError) Error() string {
	ct := e.ContentType
	if ct == "" {
		ct = "no content type"
	}
	return fmt.Sprintf("%s: decode response (%s): %v", e.Method, ct, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }
