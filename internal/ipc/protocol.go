// Package ipc carries control commands between livescribe invocations over a
// unix socket, one JSON object per line in each direction.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Commands understood by the session owner.
const (
	CommandToggle = "toggle"
	CommandStop   = "stop"
	CommandCancel = "cancel"
	CommandStatus = "status"
)

// Request is one newline-delimited JSON command sent to the session owner.
type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	// Transcript carries the latest live text for status requests.
	Transcript string `json:"transcript,omitempty"`
}

// Failure builds an error response.
func Failure(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}

// writeLine encodes v followed by a newline.
func writeLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// readLine decodes exactly one newline-terminated JSON value. what names the
// value in the returned error.
func readLine(r *bufio.Reader, v any, what string) error {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}
