// Package display renders session progress for a terminal.
package display

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/transcript"
)

// Terminal writes one line per update. An error clears the current
// transcript line before printing, so stale text never sits next to it.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	current string
}

// NewTerminal writes to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) ShowState(_ context.Context, state fsm.State) {
	var line string
	switch state {
	case fsm.StateConnecting:
		line = "connecting…"
	case fsm.StateActive:
		line = "recording (run toggle again to stop)"
	case fsm.StateClosing:
		line = "finishing transcript…"
	case fsm.StateIdle:
		line = "done"
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = ""
	fmt.Fprintf(t.w, "[%s]\n", line)
}

func (t *Terminal) ShowTranscript(_ context.Context, update transcript.Update) {
	line := update.Display()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = line
	fmt.Fprintln(t.w, line)
}

func (t *Terminal) ShowError(_ context.Context, err error) {
	if err == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = "Error: " + err.Error()
	fmt.Fprintln(t.w, t.current)
}

// Current returns the text most recently displayed, or "" after a status line.
func (t *Terminal) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
