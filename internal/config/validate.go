package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	switch cfg.Backend {
	case BackendDeepgram:
		if err := validateWebSocketURL("deepgram.url", cfg.Deepgram.URL); err != nil {
			return nil, err
		}
		if cfg.Deepgram.Language == "" {
			return nil, fmt.Errorf("deepgram.language must not be empty")
		}
	case BackendRelay:
		if err := validateWebSocketURL("relay.url", cfg.Relay.URL); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("backend must be one of: %s, %s (got %q)", BackendDeepgram, BackendRelay, cfg.Backend)
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}
	if cfg.Audio.FrameSize <= 0 {
		return nil, fmt.Errorf("audio.frame_size must be > 0")
	}
	if ms := cfg.Audio.FrameSize * 1000 / cfg.Audio.SampleRate; ms > 1000 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.frame_size spans %d ms; transcripts will lag", ms)})
	}

	if cfg.Stream.QueueFrames <= 0 {
		return nil, fmt.Errorf("stream.queue_frames must be > 0")
	}
	if cfg.Stream.HandshakeTimeoutMS <= 0 {
		return nil, fmt.Errorf("stream.handshake_timeout_ms must be > 0")
	}
	if cfg.Stream.CloseTimeoutMS <= 0 {
		return nil, fmt.Errorf("stream.close_timeout_ms must be > 0")
	}

	if cfg.Output.Clipboard && len(cfg.Output.ClipboardCmd.Argv) == 0 {
		return nil, fmt.Errorf("output.clipboard_cmd must not be empty when output.clipboard=true")
	}
	if !cfg.Output.Clipboard && !cfg.Output.Archive {
		warnings = append(warnings, Warning{Message: "output.clipboard and output.archive are both disabled; transcripts are only printed"})
	}

	if cfg.Indicator.Enable && cfg.Indicator.DesktopAppName == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if !validLevel(cfg.Log.Level) {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func validateWebSocketURL(field string, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must use ws:// or wss:// (got %q)", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

func validLevel(level string) bool {
	var l slog.Level
	return level == "" || l.UnmarshalText([]byte(level)) == nil
}
