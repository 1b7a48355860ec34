// Package channel implements the duplex WebSocket session to a transcription backend.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/livescribe/internal/metrics"
	"github.com/rbright/livescribe/internal/pcm"
)

// State is the channel lifecycle position. Channels are single use.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

var (
	// ErrConnect reports a failed handshake. The channel ends in closed.
	ErrConnect = errors.New("session channel connect failed")
	// ErrDisconnected reports an unexpected loss of an active channel.
	ErrDisconnected = errors.New("session channel disconnected")
	// ErrRemote wraps an error reported by the backend over an active channel.
	ErrRemote = errors.New("transcription backend error")
	// ErrReused is returned by Open on a channel that already left idle.
	ErrReused = errors.New("session channel already opened")
)

// EventKind classifies inbound channel events.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventTranscript
	EventError
	EventDisconnected
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one notification delivered on Events.
type Event struct {
	Kind    EventKind
	Text    string
	IsFinal bool
	Err     error
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCloseTimeout     = 3 * time.Second
	defaultQueueSize        = 32
	writeTimeout            = 5 * time.Second
	readLimitBytes          = 1 << 20
)

// Config wires one Channel.
type Config struct {
	Protocol         Protocol
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	// QueueSize bounds queued audio frames; see outbox.
	QueueSize int
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Channel is one duplex session. All socket writes happen on a single writer
// goroutine; inbound messages are decoded on a single reader goroutine.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	closeRequested bool
	lostErr        error

	out        *outbox
	events     chan Event
	readerDone chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	dropped atomic.Uint64
}

// New builds an idle channel.
func New(cfg Config) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Protocol != nil {
		logger = logger.With("protocol", cfg.Protocol.Name())
	}

	return &Channel{
		cfg:        cfg,
		logger:     logger,
		state:      StateIdle,
		out:        newOutbox(cfg.QueueSize),
		events:     make(chan Event, 64),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events delivers inbound notifications in arrival order. It is closed after
// the channel reaches closed; consumers must drain it until then.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Done is closed once the channel reaches closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Dropped reports audio frames shed by the bounded outbound queue.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// Encoding reports the chunk representation the backend expects.
func (c *Channel) Encoding() pcm.Encoding {
	if c.cfg.Protocol == nil {
		return pcm.EncodingBinary
	}
	return c.cfg.Protocol.Encoding()
}

// Open performs the handshake. On success the channel is active and a
// Connected event is queued. On failure it returns an error wrapping
// ErrConnect and the channel is closed.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrReused
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if c.cfg.Protocol == nil {
		c.abort()
		return fmt.Errorf("%w: no protocol configured", ErrConnect)
	}

	hs, err := c.cfg.Protocol.Handshake()
	if err != nil {
		c.abort()
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	dialer := websocket.DefaultDialer
	if c.cfg.Dialer != nil {
		dialer = c.cfg.Dialer
	}
	d := *dialer
	d.Subprotocols = hs.Subprotocols
	d.HandshakeTimeout = c.cfg.HandshakeTimeout

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	started := time.Now()
	conn, resp, err := d.DialContext(dialCtx, hs.URL, hs.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.abort()
		c.cfg.Metrics.Error("connect")
		if resp != nil {
			return fmt.Errorf("%w: %s: HTTP %d: %w", ErrConnect, redactURL(hs.URL), resp.StatusCode, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrConnect, redactURL(hs.URL), err)
	}

	c.mu.Lock()
	if c.closeRequested {
		c.mu.Unlock()
		_ = conn.Close()
		c.abort()
		return fmt.Errorf("%w: closed during handshake", ErrConnect)
	}
	c.conn = conn
	c.state = StateActive
	c.mu.Unlock()

	c.cfg.Metrics.Connected(time.Since(started))
	c.logger.Info("session channel connected", "latency_ms", time.Since(started).Milliseconds())

	conn.SetReadLimit(readLimitBytes)
	c.events <- Event{Kind: EventConnected}

	go c.readLoop(conn)
	go c.writeLoop(conn)
	go c.supervise(conn)
	return nil
}

// SendAudio queues one chunk. It is a silent no-op unless the channel is
// active and never fails; encoding problems are logged.
func (c *Channel) SendAudio(chunk pcm.Chunk) {
	if chunk.Empty() || c.State() != StateActive {
		return
	}

	frame, err := c.cfg.Protocol.Audio(chunk)
	if err != nil {
		c.logger.Debug("drop unframeable audio chunk", "seq", chunk.Seq, "error", err.Error())
		return
	}
	if c.out.push(queued{Frame: frame, audio: true}) {
		c.dropped.Add(1)
		c.cfg.Metrics.ChunkDropped()
		c.logger.Warn("outbound queue full; dropped oldest audio chunk", "dropped_total", c.dropped.Load())
	}
	c.cfg.Metrics.QueueDepth(c.out.len())
}

// SendControl queues a framing signal when the protocol defines one. It is a
// no-op unless the channel is active.
func (c *Channel) SendControl(sig Signal) error {
	if c.State() != StateActive {
		return nil
	}
	frame, ok, err := c.cfg.Protocol.Control(sig)
	if err != nil {
		return fmt.Errorf("build %s signal: %w", sig, err)
	}
	if !ok {
		return nil
	}
	c.out.push(queued{Frame: frame})
	return nil
}

// Close starts a graceful shutdown and returns immediately; Done and the
// final Closed event report completion. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.state = StateClosed
		c.mu.Unlock()
		close(c.events)
		close(c.done)
		return nil
	case StateConnecting:
		c.closeRequested = true
		c.mu.Unlock()
		return nil
	case StateActive:
		c.state = StateClosing
		c.mu.Unlock()
		c.out.close()
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
}

// abort ends a channel that never became active.
func (c *Channel) abort() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	close(c.events)
	close(c.done)
}

// lose records an unexpected failure on an active channel.
func (c *Channel) lose(err error) {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateClosing
		c.lostErr = err
	}
	c.mu.Unlock()
	c.out.close()
}

func (c *Channel) isLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr != nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer close(c.readerDone)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.lose(err)
			return
		}

		events, err := c.cfg.Protocol.Decode(messageType, data)
		if err != nil {
			c.logger.Debug("ignore undecodable message", "error", err.Error())
			continue
		}
		for _, ev := range events {
			switch ev.Kind {
			case EventTranscript:
				c.cfg.Metrics.Transcript(ev.IsFinal)
			case EventError:
				c.cfg.Metrics.Error("remote")
			}
			c.events <- ev
		}
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn) {
	defer close(c.writerDone)

	for {
		item, ok := c.out.pop()
		if !ok {
			break
		}
		// Audio accepted while active is flushed ahead of the stop signal;
		// after an unexpected loss nothing more is written.
		if item.audio && c.isLost() {
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(item.MessageType, item.Data); err != nil {
			c.lose(err)
			_ = conn.Close()
			return
		}
		if item.audio {
			c.cfg.Metrics.ChunkSent(len(item.Data))
		}
	}

	if c.isLost() {
		_ = conn.Close()
		return
	}

	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()

	if c.cfg.Protocol.DrainOnClose() {
		select {
		case <-c.readerDone:
			_ = conn.Close()
			return
		case <-timer.C:
			c.logger.Debug("peer did not finish draining before close timeout")
			timer.Reset(c.cfg.CloseTimeout)
		}
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	select {
	case <-c.readerDone:
	case <-timer.C:
	}
	_ = conn.Close()
}

// supervise finalizes the channel once both loops have exited.
func (c *Channel) supervise(conn *websocket.Conn) {
	<-c.writerDone
	<-c.readerDone
	_ = conn.Close()

	c.mu.Lock()
	c.state = StateClosed
	lostErr := c.lostErr
	c.mu.Unlock()
	c.cfg.Metrics.QueueDepth(0)

	if lostErr != nil {
		c.cfg.Metrics.Error("disconnected")
		c.logger.Warn("session channel lost", "error", lostErr.Error())
		c.events <- Event{Kind: EventDisconnected, Err: fmt.Errorf("%w: %w", ErrDisconnected, lostErr)}
	} else {
		c.logger.Info("session channel closed")
		c.events <- Event{Kind: EventClosed}
	}
	close(c.events)
	close(c.done)
}

// redactURL drops the query so credentials passed as parameters stay out of errors.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
