package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Backend    *string          `json:"backend"`
	Deepgram   *jsoncDeepgram   `json:"deepgram"`
	Relay      *jsoncRelay      `json:"relay"`
	Audio      *jsoncAudio      `json:"audio"`
	Stream     *jsoncStream     `json:"stream"`
	Transcript *jsoncTranscript `json:"transcript"`
	Output     *jsoncOutput     `json:"output"`
	Indicator  *jsoncIndicator  `json:"indicator"`
	Metrics    *jsoncMetrics    `json:"metrics"`
	Log        *jsoncLog        `json:"log"`
}

type jsoncDeepgram struct {
	URL         *string          `json:"url"`
	Model       *string          `json:"model"`
	Language    *string          `json:"language"`
	Punctuate   *bool            `json:"punctuate"`
	SmartFormat *bool            `json:"smart_format"`
	Keywords    *jsoncStringList `json:"keywords"`
}

type jsoncRelay struct {
	URL        *string `json:"url"`
	Language   *string `json:"language"`
	HealthGRPC *string `json:"health_grpc"`
}

type jsoncAudio struct {
	Input      *string `json:"input"`
	Fallback   *string `json:"fallback"`
	SampleRate *int    `json:"sample_rate"`
	FrameSize  *int    `json:"frame_size"`
}

type jsoncStream struct {
	QueueFrames        *int  `json:"queue_frames"`
	HandshakeTimeoutMS *int  `json:"handshake_timeout_ms"`
	CloseTimeoutMS     *int  `json:"close_timeout_ms"`
	StopOnRemoteError  *bool `json:"stop_on_remote_error"`
}

type jsoncTranscript struct {
	CapitalizeSentences *bool `json:"capitalize_sentences"`
	TrailingSpace       *bool `json:"trailing_space"`
}

type jsoncOutput struct {
	Clipboard    *bool   `json:"clipboard"`
	ClipboardCmd *string `json:"clipboard_cmd"`
	Archive      *bool   `json:"archive"`
	ArchiveDir   *string `json:"archive_dir"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncLog struct {
	Console *bool   `json:"console"`
	Level   *string `json:"level"`
}

// jsoncStringList accepts either a string array or one comma-delimited string.
type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("expected string array or comma-delimited string")
		}
		raw = strings.Split(single, ",")
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*l = out
	return nil
}

// Parse reads JSONC configuration content on top of base and validates the result.
func Parse(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}

	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, withPosition(normalized, err)
	}
	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("multiple JSON values are not allowed")
		}
		return Config{}, nil, withPosition(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func set[T bool | int](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (p jsoncConfig) applyTo(cfg *Config) error {
	setString(&cfg.Backend, p.Backend)

	if d := p.Deepgram; d != nil {
		setString(&cfg.Deepgram.URL, d.URL)
		setString(&cfg.Deepgram.Model, d.Model)
		setString(&cfg.Deepgram.Language, d.Language)
		set(&cfg.Deepgram.Punctuate, d.Punctuate)
		set(&cfg.Deepgram.SmartFormat, d.SmartFormat)
		if d.Keywords != nil {
			cfg.Deepgram.Keywords = append([]string(nil), (*d.Keywords)...)
		}
	}

	if r := p.Relay; r != nil {
		setString(&cfg.Relay.URL, r.URL)
		setString(&cfg.Relay.Language, r.Language)
		setString(&cfg.Relay.HealthGRPC, r.HealthGRPC)
	}

	if a := p.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		set(&cfg.Audio.SampleRate, a.SampleRate)
		set(&cfg.Audio.FrameSize, a.FrameSize)
	}

	if s := p.Stream; s != nil {
		set(&cfg.Stream.QueueFrames, s.QueueFrames)
		set(&cfg.Stream.HandshakeTimeoutMS, s.HandshakeTimeoutMS)
		set(&cfg.Stream.CloseTimeoutMS, s.CloseTimeoutMS)
		set(&cfg.Stream.StopOnRemoteError, s.StopOnRemoteError)
	}

	if t := p.Transcript; t != nil {
		set(&cfg.Transcript.CapitalizeSentences, t.CapitalizeSentences)
		set(&cfg.Transcript.TrailingSpace, t.TrailingSpace)
	}

	if o := p.Output; o != nil {
		set(&cfg.Output.Clipboard, o.Clipboard)
		set(&cfg.Output.Archive, o.Archive)
		setString(&cfg.Output.ArchiveDir, o.ArchiveDir)
		if o.ClipboardCmd != nil {
			cmd, err := ParseCommand(*o.ClipboardCmd)
			if err != nil {
				return fmt.Errorf("invalid output.clipboard_cmd: %w", err)
			}
			cfg.Output.ClipboardCmd = cmd
		}
	}

	if i := p.Indicator; i != nil {
		set(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		set(&cfg.Indicator.SoundEnable, i.SoundEnable)
		set(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if m := p.Metrics; m != nil {
		setString(&cfg.Metrics.Listen, m.Listen)
	}

	if l := p.Log; l != nil {
		set(&cfg.Log.Console, l.Console)
		setString(&cfg.Log.Level, l.Level)
	}
	return nil
}

// normalizeJSONC blanks comments and drops trailing commas in one pass. Byte
// offsets are preserved so decode errors still map onto the original text.
func normalizeJSONC(content string) (string, error) {
	src := []byte(content)
	out := bytes.Repeat([]byte{' '}, len(src))

	const (
		code = iota
		str
		line
		block
	)
	mode := code
	pendingComma := -1

	for i := 0; i < len(src); i++ {
		ch := src[i]
		if ch == '\n' || ch == '\r' || ch == '\t' {
			out[i] = ch
		}

		switch mode {
		case str:
			out[i] = ch
			switch ch {
			case '\\':
				if i+1 < len(src) {
					i++
					out[i] = src[i]
				}
			case '"':
				mode = code
			}
		case line:
			if ch == '\n' || ch == '\r' {
				mode = code
			}
		case block:
			if ch == '*' && i+1 < len(src) && src[i+1] == '/' {
				i++
				mode = code
			}
		default:
			switch {
			case ch == '/' && i+1 < len(src) && src[i+1] == '/':
				i++
				mode = line
			case ch == '/' && i+1 < len(src) && src[i+1] == '*':
				i++
				mode = block
			case ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t':
			case ch == ',':
				if pendingComma >= 0 {
					out[pendingComma] = ','
				}
				pendingComma = i
			case ch == '}' || ch == ']':
				if pendingComma >= 0 {
					out[pendingComma] = ' '
				}
				pendingComma = -1
				out[i] = ch
			default:
				if pendingComma >= 0 {
					out[pendingComma] = ','
				}
				pendingComma = -1
				out[i] = ch
				if ch == '"' {
					mode = str
				}
			}
		}
	}

	if mode == block {
		return "", errors.New("unterminated block comment in JSONC")
	}
	if pendingComma >= 0 {
		out[pendingComma] = ','
	}
	return string(out), nil
}

func withPosition(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}
	prefix := content[:min(int(offset), len(content))]
	if len(prefix) > 0 {
		prefix = prefix[:len(prefix)-1]
	}
	line := strings.Count(prefix, "\n") + 1
	col := len(prefix) - strings.LastIndexByte(prefix, '\n')
	return line, col
}
