package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Backend: BackendDeepgram,
		Deepgram: DeepgramConfig{
			URL:         "wss://api.deepgram.com/v1/listen",
			Model:       "nova-2",
			Language:    "en-US",
			Punctuate:   true,
			SmartFormat: true,
		},
		Relay: RelayConfig{
			URL:      "ws://127.0.0.1:8000/ws",
			Language: "en-US",
		},
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			SampleRate: 16000,
			FrameSize:  4096,
		},
		Stream: StreamConfig{
			QueueFrames:        32,
			HandshakeTimeoutMS: 10000,
			CloseTimeoutMS:     3000,
		},
		Transcript: TranscriptConfig{
			CapitalizeSentences: true,
			TrailingSpace:       true,
		},
		Output: OutputConfig{
			Clipboard:    true,
			ClipboardCmd: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
			Archive:      true,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "livescribe",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Log: LogConfig{Level: "info"},
	}
}
