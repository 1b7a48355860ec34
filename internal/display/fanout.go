package display

import (
	"context"

	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/transcript"
)

// Sink matches the session presentation contract.
type Sink interface {
	ShowState(context.Context, fsm.State)
	ShowTranscript(context.Context, transcript.Update)
	ShowError(context.Context, error)
}

// Fanout forwards every call to each sink in order. Nil entries are skipped.
type Fanout []Sink

// NewFanout drops nil sinks.
func NewFanout(sinks ...Sink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) ShowState(ctx context.Context, state fsm.State) {
	for _, s := range f {
		s.ShowState(ctx, state)
	}
}

func (f Fanout) ShowTranscript(ctx context.Context, update transcript.Update) {
	for _, s := range f {
		s.ShowTranscript(ctx, update)
	}
}

func (f Fanout) ShowError(ctx context.Context, err error) {
	for _, s := range f {
		s.ShowError(ctx, err)
	}
}
