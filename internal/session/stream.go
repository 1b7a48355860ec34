package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/livescribe/internal/audio"
	"github.com/rbright/livescribe/internal/channel"
	"github.com/rbright/livescribe/internal/metrics"
	"github.com/rbright/livescribe/internal/pcm"
	"github.com/rbright/livescribe/internal/transcript"
)

// attempt is one session from begin until its channel has closed. Fields are
// owned by the Run goroutine.
type attempt struct {
	id      string
	logger  *slog.Logger
	started time.Time
	cancel  context.CancelFunc

	ch       Channel
	gate     *frameGate
	capture  audio.Handle
	builder  transcript.Builder
	opened   bool
	ending   bool
	released bool

	cancelled bool
	err       error
}

// fail records the first terminal error.
func (a *attempt) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

type beginResult struct {
	att     *attempt
	capture audio.Handle
	err     error
}

// open performs the suspending half of begin off the loop: handshake, start
// signal, then capture. A capture failure closes the already open channel
// before reporting.
func (c *Controller) open(ctx context.Context, att *attempt) {
	res := beginResult{att: att}
	defer func() { c.opened <- res }()

	if err := att.ch.Open(ctx); err != nil {
		res.err = err
		return
	}
	if err := att.ch.SendControl(channel.SignalStart); err != nil {
		_ = att.ch.Close()
		res.err = fmt.Errorf("send start signal: %w", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	handle, err := c.cfg.Capturer.Start(ctx, att.gate.forward)
	if err != nil {
		_ = att.ch.Close()
		res.err = err
		return
	}
	res.capture = handle
}

// frameGate binds capture output through the encoder into the channel. Once
// closed, no frame reaches the channel, including one already in flight on
// the capture goroutine.
type frameGate struct {
	mu      sync.Mutex
	open    bool
	ch      Channel
	encoder pcm.Encoder
	metrics *metrics.Recorder
}

func newFrameGate(ch Channel, rec *metrics.Recorder) *frameGate {
	return &frameGate{
		open:    true,
		ch:      ch,
		encoder: pcm.Encoder{Encoding: ch.Encoding()},
		metrics: rec,
	}
}

func (g *frameGate) forward(frame audio.Frame) {
	g.metrics.FrameCaptured()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return
	}
	g.ch.SendAudio(g.encoder.Encode(frame))
}

func (g *frameGate) close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}
