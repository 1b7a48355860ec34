// Package config resolves, parses, validates, and defaults livescribe configuration.
package config

import "time"

// Backend names select the session channel protocol.
const (
	BackendDeepgram = "deepgram"
	BackendRelay    = "relay"
)

// Config is the fully materialized runtime configuration.
type Config struct {
	Backend    string
	Deepgram   DeepgramConfig
	Relay      RelayConfig
	Audio      AudioConfig
	Stream     StreamConfig
	Transcript TranscriptConfig
	Output     OutputConfig
	Indicator  IndicatorConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

// DeepgramConfig configures the direct token-authenticated backend. APIKey
// comes from the environment only.
type DeepgramConfig struct {
	URL         string
	APIKey      string
	Model       string
	Language    string
	Punctuate   bool
	SmartFormat bool
	Keywords    []string
}

// RelayConfig configures the relayed backend. Token comes from the environment only.
type RelayConfig struct {
	URL        string
	Token      string
	Language   string
	HealthGRPC string
}

// AudioConfig controls input-source selection and framing.
type AudioConfig struct {
	Input      string
	Fallback   string
	SampleRate int
	FrameSize  int
}

// StreamConfig tunes the session channel.
type StreamConfig struct {
	QueueFrames        int
	HandshakeTimeoutMS int
	CloseTimeoutMS     int
	StopOnRemoteError  bool
}

func (s StreamConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}

func (s StreamConfig) CloseTimeout() time.Duration {
	return time.Duration(s.CloseTimeoutMS) * time.Millisecond
}

// TranscriptConfig controls transcript assembly formatting.
type TranscriptConfig struct {
	CapitalizeSentences bool
	TrailingSpace       bool
}

// OutputConfig controls where a committed transcript goes.
type OutputConfig struct {
	Clipboard    bool
	ClipboardCmd CommandConfig
	Archive      bool
	ArchiveDir   string
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// MetricsConfig enables the Prometheus listener when Listen is set.
type MetricsConfig struct {
	Listen string
}

// LogConfig controls the optional console log sink.
type LogConfig struct {
	Console bool
	Level   string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
