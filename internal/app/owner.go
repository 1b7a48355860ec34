package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/livescribe/internal/audio"
	"github.com/rbright/livescribe/internal/channel"
	"github.com/rbright/livescribe/internal/config"
	"github.com/rbright/livescribe/internal/display"
	"github.com/rbright/livescribe/internal/indicator"
	"github.com/rbright/livescribe/internal/ipc"
	"github.com/rbright/livescribe/internal/logging"
	"github.com/rbright/livescribe/internal/metrics"
	"github.com/rbright/livescribe/internal/output"
	"github.com/rbright/livescribe/internal/session"
	"github.com/rbright/livescribe/internal/transcript"
)

// commandToggle forwards to a running owner, or becomes the owner: it takes
// the socket, runs one session to completion, and prints its transcript.
func (r Runner) commandToggle(ctx context.Context, inv invocation) error {
	cfg, logger := inv.loaded.Config, inv.logger

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if handled {
		return r.forwarded(resp, err)
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Retries: 8})
	if errors.Is(err, ipc.ErrAlreadyRunning) {
		// Another owner won the race between our probe and bind.
		return r.forwarded(tryForwardResp(ctx, socketPath))
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = listener.Close()
		if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug("remove owner socket", "path", socketPath, "error", err.Error())
		}
	}()

	ownerCtx, cancelOwner := context.WithCancel(ctx)
	defer cancelOwner()

	recorder := metrics.New()
	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		go func() {
			if err := recorder.Serve(ownerCtx, addr, logger); err != nil {
				logger.Warn("metrics listener failed", "error", err.Error())
			}
		}()
	}

	desktop := indicator.NewDesktop(cfg.Indicator, logger)
	defer desktop.Wait()

	controller := session.NewController(session.Config{
		Capturer:  r.capturer(cfg, logger),
		Channels:  channelFactory(cfg, logger, recorder),
		Sink:      display.NewFanout(display.NewTerminal(r.Stderr), desktop),
		Committer: output.NewCommitter(cfg.Output, logger),
		Transcript: transcript.Options{
			CapitalizeSentences: cfg.Transcript.CapitalizeSentences,
			TrailingSpace:       cfg.Transcript.TrailingSpace,
		},
		StopOnRemoteError: cfg.Stream.StopOnRemoteError,
		Logger:            logger,
		Metrics:           recorder,
	})

	result, err := runOwner(ctx, ownerCtx, cancelOwner, controller, listener)
	if err != nil {
		return err
	}
	return r.printResult(result)
}

// runOwner serves IPC while one session runs, then shuts both loops down.
// An interrupted owner reports the session as cancelled unless a result was
// already published.
func runOwner(ctx, ownerCtx context.Context, cancelOwner context.CancelFunc, controller *session.Controller, listener net.Listener) (session.Result, error) {
	runErr := make(chan error, 1)
	go func() { runErr <- controller.Run(ownerCtx) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ipc.Serve(ownerCtx, listener, controller) }()

	shutdown := func() error {
		cancelOwner()
		<-runErr
		if err := <-serveErr; err != nil {
			return fmt.Errorf("ipc server failed: %w", err)
		}
		return nil
	}

	if err := controller.Begin(ownerCtx); err != nil {
		_ = shutdown()
		return session.Result{}, err
	}

	var result session.Result
	select {
	case result = <-controller.Results():
		return result, shutdown()
	case <-ctx.Done():
	}

	if err := shutdown(); err != nil {
		return session.Result{}, err
	}
	select {
	case result = <-controller.Results():
	default:
		result = session.Result{Cancelled: true}
	}
	return result, nil
}

func tryForwardResp(ctx context.Context, socketPath string) (ipc.Response, error) {
	resp, _, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	return resp, err
}

func (r Runner) forwarded(resp ipc.Response, err error) error {
	if err != nil {
		return err
	}
	r.printMessage(resp)
	return nil
}

func (r Runner) printResult(result session.Result) error {
	switch {
	case result.Cancelled:
		fmt.Fprintln(r.Stdout, "cancelled")
		return nil
	case result.Err != nil:
		return result.Err
	}
	if text := strings.TrimSpace(result.Transcript); text != "" {
		fmt.Fprintln(r.Stdout, text)
	}
	return nil
}

func (r Runner) capturer(cfg config.Config, logger *slog.Logger) audio.Capturer {
	if r.Capturer != nil {
		return r.Capturer
	}
	return audio.PulseCapturer{
		Input:      cfg.Audio.Input,
		Fallback:   cfg.Audio.Fallback,
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.FrameSize,
		Logger:     logger,
	}
}

// channelFactory builds one fresh channel per session for the configured backend.
func channelFactory(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) session.ChannelFactory {
	return func(sessionID string) (session.Channel, error) {
		var protocol channel.Protocol
		switch cfg.Backend {
		case config.BackendDeepgram:
			protocol = channel.NewDeepgram(channel.DeepgramConfig{
				URL:         cfg.Deepgram.URL,
				APIKey:      cfg.Deepgram.APIKey,
				Model:       cfg.Deepgram.Model,
				Language:    cfg.Deepgram.Language,
				SampleRate:  cfg.Audio.SampleRate,
				Punctuate:   cfg.Deepgram.Punctuate,
				SmartFormat: cfg.Deepgram.SmartFormat,
				Keywords:    cfg.Deepgram.Keywords,
			})
		case config.BackendRelay:
			protocol = channel.NewRelay(channel.RelayConfig{
				URL:        cfg.Relay.URL,
				Token:      cfg.Relay.Token,
				Language:   cfg.Relay.Language,
				SampleRate: cfg.Audio.SampleRate,
				SessionID:  sessionID,
			})
		default:
			return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
		}

		return channel.New(channel.Config{
			Protocol:         protocol,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout(),
			CloseTimeout:     cfg.Stream.CloseTimeout(),
			QueueSize:        cfg.Stream.QueueFrames,
			Logger:           logging.WithSession(logger, sessionID),
			Metrics:          recorder,
		}), nil
	}
}
