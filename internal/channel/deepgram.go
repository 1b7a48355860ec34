package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/rbright/livescribe/internal/pcm"
)

const DefaultDeepgramURL = "wss://api.deepgram.com/v1/listen"

var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// DeepgramConfig configures the token-authenticated direct protocol.
type DeepgramConfig struct {
	URL         string
	APIKey      string
	Model       string
	Language    string
	SampleRate  int
	Punctuate   bool
	SmartFormat bool
	Keywords    []string
}

// Deepgram streams raw PCM16 binary frames to the Deepgram live endpoint.
// The API key travels as the second WebSocket subprotocol.
type Deepgram struct {
	cfg DeepgramConfig
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	return &Deepgram{cfg: cfg}
}

func (*Deepgram) Name() string { return "deepgram" }

func (*Deepgram) Encoding() pcm.Encoding { return pcm.EncodingBinary }

func (*Deepgram) DrainOnClose() bool { return true }

func (d *Deepgram) Handshake() (Handshake, error) {
	key := strings.TrimSpace(d.cfg.APIKey)
	if key == "" {
		return Handshake{}, errors.New("deepgram api key is empty")
	}

	raw := d.cfg.URL
	if strings.TrimSpace(raw) == "" {
		raw = DefaultDeepgramURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Handshake{}, fmt.Errorf("parse deepgram url: %w", err)
	}

	sampleRate := d.cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", strconv.FormatBool(d.cfg.Punctuate))
	q.Set("smart_format", strconv.FormatBool(d.cfg.SmartFormat))
	if model := strings.TrimSpace(d.cfg.Model); model != "" {
		q.Set("model", model)
	}
	if language := strings.TrimSpace(d.cfg.Language); language != "" {
		q.Set("language", language)
	}
	for _, keyword := range d.cfg.Keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			q.Add("keywords", keyword)
		}
	}
	u.RawQuery = q.Encode()

	return Handshake{URL: u.String(), Subprotocols: []string{"token", key}}, nil
}

func (*Deepgram) Audio(chunk pcm.Chunk) (Frame, error) {
	return Frame{MessageType: websocket.BinaryMessage, Data: chunk.Data}, nil
}

// Control maps stop to CloseStream so the backend flushes pending finals.
// The session start is implied by the connection itself.
func (*Deepgram) Control(sig Signal) (Frame, bool, error) {
	if sig != SignalStop {
		return Frame{}, false, nil
	}
	return Frame{MessageType: websocket.TextMessage, Data: closeStreamMessage}, true, nil
}

func (*Deepgram) Decode(messageType int, data []byte) ([]Event, error) {
	if messageType != websocket.TextMessage {
		return nil, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode deepgram message: %w", err)
	}

	switch head.Type {
	case "Results":
		var msg api.MessageResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode deepgram results: %w", err)
		}
		if len(msg.Channel.Alternatives) == 0 {
			return nil, nil
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if text == "" {
			return nil, nil
		}
		return []Event{{Kind: EventTranscript, Text: text, IsFinal: msg.IsFinal}}, nil
	case "Error":
		var er api.ErrorResponse
		if err := json.Unmarshal(data, &er); err != nil {
			return nil, fmt.Errorf("decode deepgram error: %w", err)
		}
		description := strings.TrimSpace(er.Description)
		if description == "" {
			description = "unspecified error"
		}
		return []Event{{Kind: EventError, Err: fmt.Errorf("%w: %s", ErrRemote, description)}}, nil
	default:
		// Metadata, SpeechStarted and UtteranceEnd carry nothing to display.
		return nil, nil
	}
}
