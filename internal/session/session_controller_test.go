package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rbright/livescribe/internal/channel"
	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/ipc"
	"github.com/rbright/livescribe/internal/metrics"
	"github.com/rbright/livescribe/internal/pcm"
	"github.com/stretchr/testify/require"
)

func TestStreamLifecycleCommitsAssembledTranscript(t *testing.T) {
	ch := newFakeChannel()
	rec := metrics.New()
	h := newHarness(t, []*fakeChannel{ch}, func(_ *harness, cfg *Config) { cfg.Metrics = rec })

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	require.Equal(t, int32(1), h.capturer.starts.Load())
	require.Equal(t, []channel.Signal{channel.SignalStart}, ch.signals())

	handle := h.capturer.handle(t)
	handle.deliver(1, -1, 0)
	require.Equal(t, 1, ch.sentCount())
	require.Equal(t, []byte{0xff, 0x7f, 0x00, 0x80, 0x00, 0x00}, ch.sent[0].Data)

	ch.emit(channel.Event{Kind: channel.EventTranscript, Text: "hello"})
	ch.emit(channel.Event{Kind: channel.EventTranscript, Text: "hello world", IsFinal: true})
	waitFor(t, func() bool { return len(h.sink.transcripts()) == 2 }, "transcripts on sink")
	require.Equal(t, []string{"hello...", "hello world (final)"}, h.sink.transcripts())

	require.NoError(t, h.ctrl.End(context.Background()))
	result := waitForResult(t, h.ctrl)

	require.NoError(t, result.Err)
	require.False(t, result.Cancelled)
	require.Equal(t, "Hello world", result.Transcript)
	require.Equal(t, "Hello world", <-h.committed)
	require.Equal(t, "Test Mic (alsa_input.usb)", result.AudioDevice)
	require.Equal(t, uint64(1), result.FramesCaptured)
	_, err := uuid.Parse(result.SessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	require.Equal(t, int32(1), handle.stops.Load())
	require.Equal(t, []channel.Signal{channel.SignalStart, channel.SignalStop}, ch.signals())
	require.Equal(t, []bool{true, true}, ch.controlsActive)

	// A frame still in flight on the capture goroutine after End must not reach the channel.
	handle.deliver(0.5)
	require.Equal(t, 1, ch.sentCount())
	require.Zero(t, ch.sentInactive)

	require.Equal(t, 1.0, testutil.ToFloat64(rec.Sessions.WithLabelValues("ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(rec.FramesCaptured))
}

func TestFinalsFlushedWhileClosingAreCommitted(t *testing.T) {
	ch := newFakeChannel()
	ch.finalOnClose = "patient reports a mild fever"
	h := newHarness(t, []*fakeChannel{ch})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	require.NoError(t, h.ctrl.End(context.Background()))

	result := waitForResult(t, h.ctrl)
	require.NoError(t, result.Err)
	require.Equal(t, "Patient reports a mild fever", result.Transcript)
}

func TestBeginTwiceOpensOneChannel(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch, newFakeChannel()})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	require.NoError(t, h.ctrl.Begin(context.Background()))

	require.Equal(t, int32(1), h.factories.Load())
	require.Equal(t, int32(1), h.capturer.starts.Load())
	ch.mu.Lock()
	require.Equal(t, 1, ch.openCalls)
	ch.mu.Unlock()
}

func TestDisconnectForcesCleanup(t *testing.T) {
	ch := newFakeChannel()
	rec := metrics.New()
	h := newHarness(t, []*fakeChannel{ch}, func(_ *harness, cfg *Config) { cfg.Metrics = rec })

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	handle := h.capturer.handle(t)
	ch.emit(channel.Event{Kind: channel.EventTranscript, Text: "shortness of breath", IsFinal: true})

	ch.drop(errors.New("connection reset by peer"))
	result := waitForResult(t, h.ctrl)

	require.ErrorIs(t, result.Err, channel.ErrDisconnected)
	require.Equal(t, int32(1), handle.stops.Load())
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	handle.deliver(0.25)
	require.Zero(t, ch.sentCount())
	require.Zero(t, ch.sentInactive)

	errs := h.sink.errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], channel.ErrDisconnected)
	select {
	case text := <-h.committed:
		t.Fatalf("failed session must not commit, got %q", text)
	default:
	}
	require.Equal(t, 1.0, testutil.ToFloat64(rec.Sessions.WithLabelValues("failed")))
}

func TestRemoteErrorKeepsRecordingByDefault(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)

	ch.emit(channel.Event{Kind: channel.EventError, Err: errors.Join(channel.ErrRemote, errors.New("rate limited"))})
	waitFor(t, func() bool { return len(h.sink.errors()) == 1 }, "remote error on sink")
	require.Equal(t, fsm.StateActive, h.ctrl.State())
	require.Zero(t, h.capturer.handle(t).stops.Load())

	ch.emit(channel.Event{Kind: channel.EventTranscript, Text: "still here", IsFinal: true})
	require.NoError(t, h.ctrl.End(context.Background()))

	result := waitForResult(t, h.ctrl)
	require.NoError(t, result.Err)
	require.Equal(t, "Still here", result.Transcript)
}

func TestRemoteErrorStopsWhenConfigured(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch}, func(_ *harness, cfg *Config) { cfg.StopOnRemoteError = true })

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	ch.emit(channel.Event{Kind: channel.EventError, Err: errors.Join(channel.ErrRemote, errors.New("bad audio"))})

	result := waitForResult(t, h.ctrl)
	require.ErrorIs(t, result.Err, channel.ErrRemote)
	require.Equal(t, int32(1), h.capturer.handle(t).stops.Load())
	require.Equal(t, []channel.Signal{channel.SignalStart, channel.SignalStop}, ch.signals())
}

func TestToggleDuringConnectingUnwindsBegin(t *testing.T) {
	ch := newFakeChannel()
	ch.openGate = make(chan struct{})
	h := newHarness(t, []*fakeChannel{ch})

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.True(t, resp.OK)
	require.Equal(t, string(fsm.StateConnecting), resp.State)
	require.Equal(t, "connecting", resp.Message)

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.True(t, resp.OK)
	require.Equal(t, "start cancelled", resp.Message)

	result := waitForResult(t, h.ctrl)
	require.True(t, result.Cancelled)
	require.Equal(t, "cancelled", result.Outcome())
	require.Zero(t, h.capturer.starts.Load())
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestToggleAlternatesOverIPC(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch})
	ctx := context.Background()

	require.True(t, h.ctrl.Handle(ctx, ipc.Request{Command: "toggle"}).OK)
	waitForState(t, h.ctrl, fsm.StateActive)

	ch.emit(channel.Event{Kind: channel.EventTranscript, Text: "left knee pain"})
	waitFor(t, func() bool { return h.ctrl.Preview() != "" }, "preview")
	status := h.ctrl.Handle(ctx, ipc.Request{Command: "status"})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateActive), status.State)
	require.Equal(t, "left knee pain...", status.Transcript)

	stop := h.ctrl.Handle(ctx, ipc.Request{Command: "toggle"})
	require.True(t, stop.OK)
	require.Equal(t, "stopping", stop.Message)

	result := waitForResult(t, h.ctrl)
	require.NoError(t, result.Err)
	require.Equal(t, "Left knee pain", result.Transcript)

	stopIdle := h.ctrl.Handle(ctx, ipc.Request{Command: "stop"})
	require.True(t, stopIdle.OK)
	require.Equal(t, "not recording", stopIdle.Message)
	require.Equal(t, string(fsm.StateIdle), stopIdle.State)
}

func TestCancelDiscardsTranscript(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	ch.emit(channel.Event{Kind: channel.EventTranscript, Text: "do not keep", IsFinal: true})

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: "cancel"})
	require.True(t, resp.OK)
	require.Equal(t, "cancelled", resp.Message)

	result := waitForResult(t, h.ctrl)
	require.True(t, result.Cancelled)
	require.NoError(t, result.Err)
	select {
	case text := <-h.committed:
		t.Fatalf("cancelled session must not commit, got %q", text)
	default:
	}
}

func TestEmptyTranscriptIsReported(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	require.NoError(t, h.ctrl.End(context.Background()))

	result := waitForResult(t, h.ctrl)
	require.ErrorIs(t, result.Err, ErrEmptyTranscript)
	require.Equal(t, "empty", result.Outcome())
	require.ErrorIs(t, h.sink.errors()[0], ErrEmptyTranscript)
}

func TestCommitFailureSurfaces(t *testing.T) {
	ch := newFakeChannel()
	ch.finalOnClose = "hello"
	h := newHarness(t, []*fakeChannel{ch}, func(_ *harness, cfg *Config) {
		cfg.Committer = CommitFunc(func(context.Context, string) error { return errors.New("clipboard busy") })
	})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	require.NoError(t, h.ctrl.End(context.Background()))

	result := waitForResult(t, h.ctrl)
	require.ErrorContains(t, result.Err, "clipboard busy")
	require.Equal(t, "Hello", result.Transcript)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestShutdownCancelsLiveSession(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	handle := h.capturer.handle(t)

	h.cancel()
	result := waitForResult(t, h.ctrl)
	require.True(t, result.Cancelled)
	require.Equal(t, int32(1), handle.stops.Load())

	require.ErrorIs(t, <-h.runErr, context.Canceled)
	h.runErr <- nil

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.False(t, resp.OK)
	require.Equal(t, ErrNotRunning.Error(), resp.Error)
}

func TestToggleWhileClosingIsRejected(t *testing.T) {
	ch := newFakeChannel()
	h := newHarness(t, []*fakeChannel{ch})

	h.ctrl.mu.Lock()
	h.ctrl.state = fsm.StateClosing
	h.ctrl.mu.Unlock()

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.False(t, resp.OK)
	require.Equal(t, ErrStopping.Error(), resp.Error)
}

func TestHandleUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestChannelFactoryFailureLeavesIdle(t *testing.T) {
	h := newHarness(t, nil)

	err := h.ctrl.Begin(context.Background())
	require.ErrorIs(t, err, channel.ErrConnect)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Zero(t, h.capturer.starts.Load())
}

func TestBase64ChannelReceivesTextSafeChunks(t *testing.T) {
	ch := newFakeChannel()
	ch.encoding = pcm.EncodingBase64
	h := newHarness(t, []*fakeChannel{ch})

	require.NoError(t, h.ctrl.Begin(context.Background()))
	waitForState(t, h.ctrl, fsm.StateActive)
	h.capturer.handle(t).deliver(1, -1, 0)

	require.Equal(t, "/38AgAAA", string(ch.sent[0].Data))
}

func TestCommitFuncDelegates(t *testing.T) {
	called := false
	commit := CommitFunc(func(_ context.Context, text string) error {
		called = true
		require.Equal(t, "hello", text)
		return nil
	})

	require.NoError(t, commit.Commit(context.Background(), "hello"))
	require.True(t, called)
}

func TestResultOutcome(t *testing.T) {
	require.Equal(t, "ok", Result{}.Outcome())
	require.Equal(t, "cancelled", Result{Cancelled: true, Err: errors.New("x")}.Outcome())
	require.Equal(t, "empty", Result{Err: ErrEmptyTranscript}.Outcome())
	require.Equal(t, "failed", Result{Err: channel.ErrConnect}.Outcome())
}
