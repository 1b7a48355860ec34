// Package session runs the streaming dictation controller. One event loop owns
// the session state machine, the capture handle, and the backend channel;
// user actions, handshake results, and inbound channel events are processed
// on it strictly one at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/livescribe/internal/audio"
	"github.com/rbright/livescribe/internal/channel"
	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/ipc"
	"github.com/rbright/livescribe/internal/logging"
	"github.com/rbright/livescribe/internal/metrics"
	"github.com/rbright/livescribe/internal/pcm"
	"github.com/rbright/livescribe/internal/transcript"
)

var (
	// ErrEmptyTranscript indicates the session ended without recognized speech.
	ErrEmptyTranscript = errors.New("no speech recognized; check microphone input or mute state")
	// ErrStopping rejects a toggle while the previous session is still closing.
	ErrStopping = errors.New("session is already stopping")
	// ErrNotRunning is returned when no event loop is serving the controller.
	ErrNotRunning = errors.New("session controller is not running")
	// ErrShuttingDown rejects actions once Run's context is done.
	ErrShuttingDown = errors.New("session controller is shutting down")
)

const defaultCommitTimeout = 5 * time.Second

// Channel is the session-facing subset of channel.Channel.
type Channel interface {
	Open(context.Context) error
	SendAudio(pcm.Chunk)
	SendControl(channel.Signal) error
	Close() error
	Events() <-chan channel.Event
	Encoding() pcm.Encoding
	Dropped() uint64
}

// ChannelFactory builds a fresh single-use channel for one session.
type ChannelFactory func(sessionID string) (Channel, error)

// Result describes one finished session.
type Result struct {
	SessionID      string
	Transcript     string
	Cancelled      bool
	Err            error
	AudioDevice    string
	FramesCaptured uint64
	ChunksDropped  uint64
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Outcome classifies a result for logs and metrics.
func (r Result) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case errors.Is(r.Err, ErrEmptyTranscript):
		return "empty"
	case r.Err != nil:
		return "failed"
	default:
		return "ok"
	}
}

// Config wires a Controller.
type Config struct {
	Capturer   audio.Capturer
	Channels   ChannelFactory
	Sink       Sink
	Committer  Committer
	Transcript transcript.Options
	// StopOnRemoteError ends the session when the backend reports an error.
	// By default the error is shown and recording continues.
	StopOnRemoteError bool
	CommitTimeout     time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
}

type action int

const (
	actionToggle action = iota + 1
	actionBegin
	actionEnd
	actionCancel
)

type request struct {
	action action
	reply  chan reply
}

type reply struct {
	state   fsm.State
	message string
	err     error
}

// Controller is the only component with externally visible start/stop
// operations. Instances share no state.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	state   fsm.State
	preview string

	requests chan request
	opened   chan beginResult
	results  chan Result
	stopped  chan struct{}
	running  atomic.Bool

	// Owned by the Run goroutine.
	att *attempt
}

// NewController builds an idle controller. Run must be serving it before any
// action is requested.
func NewController(cfg Config) *Controller {
	if cfg.Sink == nil {
		cfg.Sink = noopSink{}
	}
	if cfg.Committer == nil {
		cfg.Committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = defaultCommitTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Controller{
		cfg:      cfg,
		logger:   logger,
		state:    fsm.StateIdle,
		requests: make(chan request),
		opened:   make(chan beginResult, 1),
		results:  make(chan Result, 4),
		stopped:  make(chan struct{}),
	}
}

// State returns the current state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Preview returns the latest transcript text shown for the live session.
func (c *Controller) Preview() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preview
}

// Results delivers one Result per finished session.
func (c *Controller) Results() <-chan Result {
	return c.results
}

// Toggle begins a session when idle and ends the live one otherwise.
func (c *Controller) Toggle(ctx context.Context) error {
	return c.do(ctx, actionToggle).err
}

// Begin opens the channel and, once it is active, starts capture. It is a
// no-op unless the controller is idle.
func (c *Controller) Begin(ctx context.Context) error {
	return c.do(ctx, actionBegin).err
}

// End stops capture, signals the backend, and closes the channel. The
// assembled transcript is committed once the channel has closed. End is a
// no-op when idle.
func (c *Controller) End(ctx context.Context) error {
	return c.do(ctx, actionEnd).err
}

// Cancel ends the live session and discards its transcript.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.do(ctx, actionCancel).err
}

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var a action
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: string(c.State()), Message: "status", Transcript: c.Preview()}
	case ipc.CommandToggle:
		a = actionToggle
	case ipc.CommandStop:
		a = actionEnd
	case ipc.CommandCancel:
		a = actionCancel
	default:
		resp := ipc.Failure("unknown command: %s", req.Command)
		resp.State = string(c.State())
		return resp
	}

	r := c.do(ctx, a)
	if r.err != nil {
		return ipc.Response{OK: false, State: string(r.state), Error: r.err.Error()}
	}
	return ipc.Response{OK: true, State: string(r.state), Message: r.message}
}

func (c *Controller) do(ctx context.Context, a action) reply {
	req := request{action: a, reply: make(chan reply, 1)}
	select {
	case c.requests <- req:
	case <-c.stopped:
		return reply{state: c.State(), err: ErrNotRunning}
	case <-ctx.Done():
		return reply{state: c.State(), err: ctx.Err()}
	}

	select {
	case r := <-req.reply:
		return r
	case <-ctx.Done():
		return reply{state: c.State(), err: ctx.Err()}
	}
}

// Run is the event loop. When ctx is done a live session is cancelled and
// Run returns once its resources have been released.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session controller already running")
	}
	defer close(c.stopped)

	done := ctx.Done()
	shuttingDown := false
	for {
		if shuttingDown && c.att == nil {
			return ctx.Err()
		}

		select {
		case <-done:
			done = nil
			shuttingDown = true
			if c.att != nil {
				c.end(true)
			}
		case req := <-c.requests:
			if shuttingDown {
				req.reply <- reply{state: c.State(), err: ErrShuttingDown}
				continue
			}
			req.reply <- c.apply(ctx, req.action)
		case res := <-c.opened:
			c.onOpened(res)
		case ev, ok := <-c.channelEvents():
			if !ok {
				c.finish()
				continue
			}
			c.onEvent(ev)
		}
	}
}

// channelEvents is nil until the in-flight begin has reported back, so the
// loop never finalizes an attempt whose opener is still running.
func (c *Controller) channelEvents() <-chan channel.Event {
	if c.att == nil || !c.att.opened {
		return nil
	}
	return c.att.ch.Events()
}

func (c *Controller) apply(ctx context.Context, a action) reply {
	state := c.State()
	switch a {
	case actionToggle:
		switch state {
		case fsm.StateIdle:
			return c.begin(ctx)
		case fsm.StateConnecting, fsm.StateActive:
			return c.end(false)
		default:
			return reply{state: state, err: ErrStopping}
		}
	case actionBegin:
		if state != fsm.StateIdle {
			return reply{state: state, message: "already " + string(state)}
		}
		return c.begin(ctx)
	case actionEnd, actionCancel:
		if state == fsm.StateIdle {
			return reply{state: state, message: "not recording"}
		}
		return c.end(a == actionCancel)
	default:
		return reply{state: state, err: fmt.Errorf("unknown action %d", a)}
	}
}

func (c *Controller) begin(ctx context.Context) reply {
	if c.cfg.Channels == nil || c.cfg.Capturer == nil {
		return reply{state: c.State(), err: errors.New("session controller is missing channel or capture wiring")}
	}

	id := uuid.NewString()
	ch, err := c.cfg.Channels(id)
	if err != nil {
		return reply{state: c.State(), err: fmt.Errorf("%w: %w", channel.ErrConnect, err)}
	}
	if err := c.transition(fsm.EventBegin); err != nil {
		_ = ch.Close()
		return reply{state: c.State(), err: err}
	}

	beginCtx, cancel := context.WithCancel(ctx)
	att := &attempt{
		id:      id,
		logger:  logging.WithSession(c.logger, id),
		started: time.Now(),
		cancel:  cancel,
		ch:      ch,
		gate:    newFrameGate(ch, c.cfg.Metrics),
	}
	c.att = att
	c.setPreview("")
	att.logger.Info("session starting")
	c.cfg.Sink.ShowState(context.Background(), fsm.StateConnecting)

	go c.open(beginCtx, att)
	return reply{state: fsm.StateConnecting, message: "connecting"}
}

// end runs endStream for the live attempt. A cancelled end discards the
// transcript; ending a session that is still connecting abandons the start.
func (c *Controller) end(cancelled bool) reply {
	att := c.att
	if cancelled {
		att.cancelled = true
	}
	if att.ending {
		if cancelled {
			return reply{state: c.State(), message: "cancel requested"}
		}
		return reply{state: c.State(), message: "already stopping"}
	}
	att.ending = true

	var message string
	switch c.State() {
	case fsm.StateConnecting:
		att.cancelled = true
		att.cancel()
		_ = att.ch.Close()
		message = "start cancelled"
	case fsm.StateActive:
		c.stopStream(att)
		message = "stopping"
	}
	if cancelled {
		message = "cancelled"
	}

	if err := c.transition(fsm.EventEnd); err != nil {
		att.logger.Warn("end transition rejected", "error", err.Error())
	}
	att.logger.Info("session ending", "cancelled", att.cancelled)
	c.cfg.Sink.ShowState(context.Background(), fsm.StateClosing)
	return reply{state: c.State(), message: message}
}

// stopStream releases local capture first so no frame can reach a closing
// channel, then frames the stop and closes the channel.
func (c *Controller) stopStream(att *attempt) {
	c.release(att)
	if err := att.ch.SendControl(channel.SignalStop); err != nil {
		att.logger.Warn("send stop signal failed", "error", err.Error())
	}
	if err := att.ch.Close(); err != nil {
		att.logger.Warn("close channel failed", "error", err.Error())
	}
}

// release closes the frame gate and stops capture. It is idempotent.
func (c *Controller) release(att *attempt) {
	att.gate.close()
	if att.capture == nil || att.released {
		return
	}
	att.released = true
	if err := att.capture.Stop(); err != nil {
		att.logger.Warn("stop capture failed", "error", err.Error())
	}
}

func (c *Controller) onOpened(res beginResult) {
	att := c.att
	if att == nil || res.att != att {
		return
	}
	att.opened = true
	att.capture = res.capture

	if res.err != nil {
		if att.ending {
			att.logger.Info("abandoned start released", "error", res.err.Error())
			return
		}
		att.ending = true
		att.fail(res.err)
		if err := c.transition(fsm.EventFail); err != nil {
			att.logger.Warn("fail transition rejected", "error", err.Error())
		}
		att.logger.Error("session start failed", "error", res.err.Error())
		c.cfg.Sink.ShowError(context.Background(), res.err)
		return
	}

	if att.ending {
		c.stopStream(att)
		att.logger.Info("abandoned start released")
		return
	}

	if err := c.transition(fsm.EventConnected); err != nil {
		att.logger.Warn("connected transition rejected", "error", err.Error())
	}
	fields := []any{"encoding", att.ch.Encoding()}
	if att.capture != nil {
		fields = append(fields, "audio_device", att.capture.Device().String())
	}
	att.logger.Info("session active", fields...)
	c.cfg.Sink.ShowState(context.Background(), fsm.StateActive)
}

func (c *Controller) onEvent(ev channel.Event) {
	att := c.att
	switch ev.Kind {
	case channel.EventTranscript:
		update := transcript.Update{Text: ev.Text, Final: ev.IsFinal}
		att.builder.Add(update)
		c.setPreview(update.Display())
		c.cfg.Sink.ShowTranscript(context.Background(), update)
	case channel.EventError:
		att.logger.Warn("backend reported error", "error", ev.Err.Error())
		c.cfg.Sink.ShowError(context.Background(), ev.Err)
		if c.cfg.StopOnRemoteError && c.State() == fsm.StateActive {
			att.fail(ev.Err)
			c.end(false)
		}
	case channel.EventDisconnected:
		att.logger.Error("session channel lost", "error", errString(ev.Err))
		if att.ending {
			return
		}
		att.ending = true
		att.fail(ev.Err)
		c.release(att)
		_ = att.ch.Close()
		if err := c.transition(fsm.EventFail); err != nil {
			att.logger.Warn("fail transition rejected", "error", err.Error())
		}
		c.cfg.Sink.ShowError(context.Background(), ev.Err)
	default:
		att.logger.Debug("channel event", "kind", ev.Kind.String())
	}
}

// finish runs once the attempt's channel has closed: it settles the state
// machine, commits the transcript, and publishes the Result.
func (c *Controller) finish() {
	att := c.att
	c.release(att)
	att.cancel()

	switch c.State() {
	case fsm.StateClosing:
		_ = c.transition(fsm.EventClosed)
	case fsm.StateConnecting, fsm.StateActive:
		_ = c.transition(fsm.EventFail)
	}

	result := Result{
		SessionID:     att.id,
		Cancelled:     att.cancelled,
		Err:           att.err,
		ChunksDropped: att.ch.Dropped(),
		StartedAt:     att.started,
	}
	if att.capture != nil {
		result.AudioDevice = att.capture.Device().String()
		result.FramesCaptured = att.capture.FramesCaptured()
	}

	text := transcript.Assemble(att.builder.Segments(), c.cfg.Transcript)
	result.Transcript = text
	if !result.Cancelled && result.Err == nil {
		if strings.TrimSpace(text) == "" {
			result.Err = ErrEmptyTranscript
			c.cfg.Sink.ShowError(context.Background(), ErrEmptyTranscript)
		} else if err := c.commit(text); err != nil {
			result.Err = err
			c.cfg.Sink.ShowError(context.Background(), err)
		}
	}
	result.FinishedAt = time.Now()

	c.att = nil
	c.setPreview("")
	if err := c.transition(fsm.EventReset); err != nil {
		att.logger.Warn("reset transition rejected", "error", err.Error())
		c.forceIdle()
	}
	if result.Err == nil {
		c.cfg.Sink.ShowState(context.Background(), fsm.StateIdle)
	}

	c.cfg.Metrics.SessionFinished(result.Outcome(), result.FinishedAt.Sub(result.StartedAt))
	logResult(att.logger, result)

	select {
	case c.results <- result:
	default:
		att.logger.Warn("session result dropped; no reader")
	}
}

func (c *Controller) commit(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
	defer cancel()
	if err := c.cfg.Committer.Commit(ctx, text); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return nil
}

func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

func (c *Controller) forceIdle() {
	c.mu.Lock()
	c.state = fsm.StateIdle
	c.mu.Unlock()
}

func (c *Controller) setPreview(text string) {
	c.mu.Lock()
	c.preview = text
	c.mu.Unlock()
}

func logResult(logger *slog.Logger, result Result) {
	fields := []any{
		"outcome", result.Outcome(),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"audio_device", result.AudioDevice,
		"frames_captured", result.FramesCaptured,
		"chunks_dropped", result.ChunksDropped,
		"transcript_length", len(result.Transcript),
	}
	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
