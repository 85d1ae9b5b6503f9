// Package sse decodes JSON-RPC response bodies that may arrive either as a
// plain JSON document or framed as a Server-Sent-Events stream.
//
// Decoding is a pure function of the declared content type and the body
// text so it can be exercised without a live server.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/mitre-mcp/mini-mcp-client/internal/jsonrpc"
)

// DataPrefix marks the lines whose suffixes carry the payload.
const DataPrefix = "data: "

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

// ErrNoData is returned when an event-stream body carries no data lines.
var ErrNoData = errors.New("event stream contains no data lines")

// IsEventStream reports whether contentType declares an event stream.
// Parameters such as charset are ignored. An empty or unparseable value
// is not an event stream.
func IsEventStream(contentType string) bool {
	mt, err := contenttype.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt.Type, eventStreamMediaType.Type) &&
		strings.EqualFold(mt.Subtype, eventStreamMediaType.Subtype)
}

// Data concatenates, in order, the suffixes of every line that starts
// with DataPrefix. Lines may end in LF or CRLF.
func Data(body []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)

	var payload bytes.Buffer
	found := false
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		if !bytes.HasPrefix(line, []byte(DataPrefix)) {
			continue
		}
		payload.Write(line[len(DataPrefix):])
		found = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event stream: %w", err)
	}
	if !found {
		return nil, ErrNoData
	}
	return payload.Bytes(), nil
}

// Decode turns a response body into a JSON-RPC response. Event-stream
// bodies are unframed first; everything else is parsed as JSON directly.
func Decode(contentType string, body []byte) (*jsonrpc.Response, error) {
	doc := body
	if IsEventStream(contentType) {
		var err error
		if doc, err = Data(body); err != nil {
			return nil, err
		}
	}
	return jsonrpc.ParseResponse(doc)
}
