package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "riva" }, wantErr: "backend must be one of"},
		{name: "deepgram http url", mutate: func(c *Config) { c.Deepgram.URL = "https://api.deepgram.com/v1/listen" }, wantErr: "deepgram.url must use ws:// or wss://"},
		{name: "deepgram empty url", mutate: func(c *Config) { c.Deepgram.URL = "" }, wantErr: "deepgram.url must not be empty"},
		{name: "deepgram language", mutate: func(c *Config) { c.Deepgram.Language = "" }, wantErr: "deepgram.language"},
		{name: "relay missing host", mutate: func(c *Config) { c.Backend = BackendRelay; c.Relay.URL = "ws:///path" }, wantErr: "relay.url must include a host"},
		{name: "sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 4000 }, wantErr: "audio.sample_rate"},
		{name: "frame size", mutate: func(c *Config) { c.Audio.FrameSize = 0 }, wantErr: "audio.frame_size"},
		{name: "queue frames", mutate: func(c *Config) { c.Stream.QueueFrames = 0 }, wantErr: "stream.queue_frames"},
		{name: "handshake timeout", mutate: func(c *Config) { c.Stream.HandshakeTimeoutMS = -1 }, wantErr: "stream.handshake_timeout_ms"},
		{name: "close timeout", mutate: func(c *Config) { c.Stream.CloseTimeoutMS = 0 }, wantErr: "stream.close_timeout_ms"},
		{name: "clipboard command", mutate: func(c *Config) { c.Output.ClipboardCmd = CommandConfig{} }, wantErr: "output.clipboard_cmd"},
		{name: "indicator app name", mutate: func(c *Config) { c.Indicator.DesktopAppName = "" }, wantErr: "indicator.desktop_app_name"},
		{name: "error timeout", mutate: func(c *Config) { c.Indicator.ErrorTimeoutMS = -1 }, wantErr: "indicator.error_timeout_ms"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "chatty" }, wantErr: "log.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			_, err := Validate(cfg)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Output.Clipboard = false
	cfg.Output.Archive = false
	cfg.Audio.FrameSize = 48000

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0].Message, "3000 ms")
	require.Contains(t, warnings[1].Message, "both disabled")
}

func TestValidateAllowsDisabledIndicatorWithoutName(t *testing.T) {
	cfg := Default()
	cfg.Indicator.Enable = false
	cfg.Indicator.DesktopAppName = ""
	_, err := Validate(cfg)
	require.NoError(t, err)
}

func TestStreamDurations(t *testing.T) {
	s := StreamConfig{HandshakeTimeoutMS: 1500, CloseTimeoutMS: 250}
	require.Equal(t, "1.5s", s.HandshakeTimeout().String())
	require.Equal(t, "250ms", s.CloseTimeout().String())
}
