package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rbright/livescribe/internal/pcm"
)

// RelayConfig configures the relayed JSON protocol.
type RelayConfig struct {
	URL        string
	Token      string
	Language   string
	SampleRate int
	SessionID  string
}

// Relay talks to an intermediary service that frames sessions explicitly
// with start/stop messages and carries audio as base64 text.
type Relay struct {
	cfg RelayConfig
}

func NewRelay(cfg RelayConfig) *Relay {
	return &Relay{cfg: cfg}
}

type relayOutbound struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Language   string `json:"language,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
	Audio      string `json:"audio,omitempty"`
}

type relayInbound struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
	Error      string `json:"error"`
}

func (*Relay) Name() string { return "relay" }

func (*Relay) Encoding() pcm.Encoding { return pcm.EncodingBase64 }

func (*Relay) DrainOnClose() bool { return false }

func (r *Relay) Handshake() (Handshake, error) {
	raw := strings.TrimSpace(r.cfg.URL)
	if raw == "" {
		return Handshake{}, errors.New("relay url is empty")
	}
	header := http.Header{}
	if token := strings.TrimSpace(r.cfg.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return Handshake{URL: raw, Header: header}, nil
}

func (*Relay) Audio(chunk pcm.Chunk) (Frame, error) {
	return textFrame(relayOutbound{Type: "audio_chunk", Seq: chunk.Seq, Audio: string(chunk.Data)})
}

func (r *Relay) Control(sig Signal) (Frame, bool, error) {
	var msg relayOutbound
	switch sig {
	case SignalStart:
		sampleRate := r.cfg.SampleRate
		if sampleRate <= 0 {
			sampleRate = 16000
		}
		msg = relayOutbound{
			Type:       "start_transcription",
			SessionID:  r.cfg.SessionID,
			SampleRate: sampleRate,
			Encoding:   "pcm_s16le",
			Language:   r.cfg.Language,
		}
	case SignalStop:
		msg = relayOutbound{Type: "stop_transcription"}
	default:
		return Frame{}, false, fmt.Errorf("unknown signal %q", sig)
	}
	frame, err := textFrame(msg)
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}

func (*Relay) Decode(messageType int, data []byte) ([]Event, error) {
	if messageType != websocket.TextMessage {
		return nil, nil
	}

	var msg relayInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode relay message: %w", err)
	}

	switch msg.Type {
	case "transcript_update":
		text := strings.TrimSpace(msg.Transcript)
		if text == "" {
			return nil, nil
		}
		return []Event{{Kind: EventTranscript, Text: text, IsFinal: msg.IsFinal}}, nil
	case "error":
		description := strings.TrimSpace(msg.Error)
		if description == "" {
			description = "unspecified error"
		}
		return []Event{{Kind: EventError, Err: fmt.Errorf("%w: %s", ErrRemote, description)}}, nil
	default:
		return nil, nil
	}
}

func textFrame(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode relay message: %w", err)
	}
	return Frame{MessageType: websocket.TextMessage, Data: data}, nil
}
