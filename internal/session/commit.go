package session

import (
	"context"

	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/transcript"
)

// Committer dispatches the assembled transcript after a session closes cleanly.
type Committer interface {
	Commit(context.Context, string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Sink presents session progress to the user. Calls arrive in event order
// from the controller loop and must not block for long.
type Sink interface {
	ShowState(context.Context, fsm.State)
	ShowTranscript(context.Context, transcript.Update)
	// ShowError replaces whatever transcript text is currently displayed.
	ShowError(context.Context, error)
}

type noopSink struct{}

func (noopSink) ShowState(context.Context, fsm.State)              {}
func (noopSink) ShowTranscript(context.Context, transcript.Update) {}
func (noopSink) ShowError(context.Context, error)                  {}
