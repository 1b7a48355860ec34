package channel

import (
	"net/http"

	"github.com/rbright/livescribe/internal/pcm"
)

// Signal is an explicit session framing message.
type Signal string

const (
	SignalStart Signal = "start"
	SignalStop  Signal = "stop"
)

// Frame is one outbound WebSocket message.
type Frame struct {
	MessageType int
	Data        []byte
}

// Handshake is everything needed to dial a backend.
type Handshake struct {
	URL          string
	Header       http.Header
	Subprotocols []string
}

// Protocol maps session traffic onto one backend's wire format.
type Protocol interface {
	Name() string
	// Encoding is the chunk payload representation the protocol expects.
	Encoding() pcm.Encoding
	Handshake() (Handshake, error)
	Audio(pcm.Chunk) (Frame, error)
	// Control returns ok=false when the backend has no message for sig.
	Control(sig Signal) (frame Frame, ok bool, err error)
	// Decode turns one inbound message into zero or more events.
	Decode(messageType int, data []byte) ([]Event, error)
	// DrainOnClose reports whether the peer flushes results and closes the
	// socket itself after the stop signal.
	DrainOnClose() bool
}
