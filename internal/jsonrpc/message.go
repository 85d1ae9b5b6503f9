package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

var (
	ErrNotObject      = errors.New("response is not a JSON object")
	ErrBothMembers    = errors.New("response has both result and error members")
	ErrNeitherMember  = errors.New("response has neither result nor error member")
	ErrInvalidVersion = errors.New("invalid jsonrpc version")
)

// Request is a JSON-RPC request carrying an id.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func NewRequest(id int64, method string, params interface{}) *Request {
	return &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Notification is a request without an id; no response is expected.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func NewNotification(method string, params interface{}) *Notification {
	return &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// Response is a decoded JSON-RPC response. Exactly one of Result and
// Error is set. Raw holds the document as received so fields this
// package does not model survive a round trip to the caller.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseResponse decodes a single response document and enforces the
// result/error exclusivity rule.
func ParseResponse(data []byte) (*Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		if !json.Valid(data) {
			return nil, fmt.Errorf("invalid JSON: %w", errInvalidJSON(data))
		}
		return nil, ErrNotObject
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	result, hasResult := members["result"]
	rawErr, hasError := members["error"]
	// An explicit null error is how some servers spell "no error".
	if hasError && isNull(rawErr) {
		hasError = false
	}
	switch {
	case hasResult && hasError:
		return nil, ErrBothMembers
	case !hasResult && !hasError:
		return nil, ErrNeitherMember
	}

	resp := &Response{
		ID:  members["id"],
		Raw: append(json.RawMessage(nil), data...),
	}
	if v, ok := members["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &resp.JSONRPC); err != nil || resp.JSONRPC != Version {
			return nil, fmt.Errorf("%w: %s", ErrInvalidVersion, v)
		}
	}
	if hasResult {
		resp.Result = result
		return resp, nil
	}

	var rpcErr Error
	if err := json.Unmarshal(rawErr, &rpcErr); err != nil {
		return nil, fmt.Errorf("invalid error member: %w", err)
	}
	resp.Error = &rpcErr
	return resp, nil
}

// IDEquals reports whether the response id is the given numeric id.
func (r *Response) IDEquals(id int64) bool {
	var got int64
	if err := json.Unmarshal(r.ID, &got); err != nil {
		return false
	}
	return got == id
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func errInvalidJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return errors.New("unexpected document")
}
