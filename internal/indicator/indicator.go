// Package indicator mirrors session progress as desktop notifications and
// short audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/livescribe/internal/config"
	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/transcript"
)

const (
	dispatchTimeout  = 400 * time.Millisecond
	recordingTimeout = 300000
	defaultErrorMS   = 1200
)

// Desktop is a session sink backed by freedesktop notifications. Each
// session reuses one notification id so updates replace each other.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	notifier notifier
	play     func(cueKind) error

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
	cues           sync.WaitGroup
}

// notifier abstracts the DBus calls so tests can observe them.
type notifier interface {
	Notify(ctx context.Context, appName string, replaceID uint32, summary string, body string, timeoutMS int) (uint32, error)
	Close(ctx context.Context, id uint32) error
}

// NewDesktop creates a desktop indicator from config.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		notifier: busctl{},
		play:     emitCue,
	}
}

// ShowState announces recording, finishing, and completion.
func (d *Desktop) ShowState(ctx context.Context, state fsm.State) {
	switch state {
	case fsm.StateActive:
		d.playCue(cueStart)
		d.notify(ctx, d.messages.recording, "", recordingTimeout)
	case fsm.StateClosing:
		d.playCue(cueStop)
		d.notify(ctx, d.messages.finishing, "", recordingTimeout)
	case fsm.StateIdle:
		d.playCue(cueComplete)
		d.dismiss(ctx)
	}
}

// ShowTranscript puts final text into the recording notification body.
// Partials are skipped to keep DBus traffic down.
func (d *Desktop) ShowTranscript(ctx context.Context, update transcript.Update) {
	if !update.Final {
		return
	}
	d.notify(ctx, d.messages.recording, update.Text, recordingTimeout)
}

// ShowError replaces the current notification with the error text.
func (d *Desktop) ShowError(ctx context.Context, err error) {
	body := ""
	if err != nil {
		body = err.Error()
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = defaultErrorMS
	}
	d.playCue(cueError)
	d.notify(ctx, d.messages.errorText, body, timeout)
}

// Wait blocks until queued cues have finished playing.
func (d *Desktop) Wait() {
	d.cues.Wait()
}

func (d *Desktop) notify(ctx context.Context, summary string, body string, timeoutMS int) {
	if !d.cfg.Enable {
		return
	}

	d.run(ctx, func(ctx context.Context) error {
		d.mu.Lock()
		replaceID := d.notificationID
		d.mu.Unlock()

		id, err := d.notifier.Notify(ctx, d.appName(), replaceID, summary, body, timeoutMS)
		if err != nil {
			return err
		}

		d.mu.Lock()
		d.notificationID = id
		d.mu.Unlock()
		return nil
	})
}

func (d *Desktop) dismiss(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}

	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()
	if id == 0 {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notifier.Close(ctx, id)
	})
}

func (d *Desktop) appName() string {
	if name := strings.TrimSpace(d.cfg.DesktopAppName); name != "" {
		return name
	}
	return "livescribe"
}

// run executes a dispatch with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue serializes cue playback off the caller's goroutine.
func (d *Desktop) playCue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	d.cues.Add(1)
	go func() {
		defer d.cues.Done()
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		if err := d.play(kind); err != nil {
			d.logger.Debug("indicator audio cue failed", "cue", kind.String(), "error", err.Error())
		}
	}()
}
