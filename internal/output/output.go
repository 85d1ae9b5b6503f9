// Package output renders tool results on stdout and failures on stderr.
package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/mitre-mcp/mini-mcp-client/internal/jsonrpc"
	"github.com/mitre-mcp/mini-mcp-client/internal/mcp"
)

// Indent is the pretty-print indentation.
const Indent = "  "

// Format re-encodes a JSON document without reordering its keys:
// indented when pretty is set, compact otherwise.
func Format(doc []byte, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if pretty {
		err = json.Indent(&buf, doc, "", Indent)
	} else {
		err = json.Compact(&buf, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("format result: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteResponse writes the whole response envelope followed by a newline.
func WriteResponse(w io.Writer, resp *jsonrpc.Response, pretty bool) error {
	doc := []byte(resp.Raw)
	if len(doc) == 0 {
		var err error
		if doc, err = json.Marshal(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
	out, err := Format(doc, pretty)
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

// Reporter prints user-facing status lines, styled when w is a terminal.
type Reporter struct {
	w     io.Writer
	fail  lipgloss.Style
	ok    lipgloss.Style
	hint  lipgloss.Style
	label lipgloss.Style
}

func NewReporter(w io.Writer) *Reporter {
	r := lipgloss.NewRenderer(w)
	return &Reporter{
		w:     w,
		fail:  r.NewStyle().Foreground(lipgloss.Color("#FF3838")).Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color("#00D26A")).Bold(true),
		hint:  r.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true),
		label: r.NewStyle().Foreground(lipgloss.Color("#FFB800")),
	}
}

// Failure reports err with a line describing which kind of failure it
// was, plus hint when it is non-empty and the failure was a transport
// error.
func (r *Reporter) Failure(err error, hint string) {
	fmt.Fprintf(r.w, "%s %s\n", r.fail.Render("✗ Failed to execute command:"), err)
	fmt.Fprintf(r.w, "  %s %s\n", r.label.Render(Kind(err)+":"), Detail(err))

	var te *mcp.TransportError
	if hint != "" && errors.As(err, &te) {
		fmt.Fprintf(r.w, "  %s\n", r.hint.Render(hint))
	}
}

// Success reports a positive status line.
func (r *Reporter) Success(msg string) {
	fmt.Fprintf(r.w, "%s %s\n", r.ok.Render("✓"), msg)
}

// Kind names the failure class of err.
func Kind(err error) string {
	var te *mcp.TransportError
	var fe *mcp.FramingError
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &te):
		return "transport error"
	case errors.As(err, &fe):
		return "malformed response"
	case errors.As(err, &rpcErr):
		return "server error"
	default:
		return "error"
	}
}

// Detail is the innermost useful message for err.
func Detail(err error) string {
	var te *mcp.TransportError
	var fe *mcp.FramingError
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &te):
		if te.StatusCode != 0 {
			return fmt.Sprintf("HTTP %d", te.StatusCode)
		}
		return fmt.Sprint(te.Err)
	case errors.As(err, &fe):
		return fmt.Sprint(fe.Err)
	case errors.As(err, &rpcErr):
		return fmt.Sprintf("code %d: %s", rpcErr.Code, rpcErr.Message)
	default:
		return err.Error()
	}
}
