package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096

	bytesPerFloat = 4
)

// ErrCaptureDenied reports that the microphone could not be acquired.
var ErrCaptureDenied = errors.New("microphone capture unavailable")

// Frame is one fixed-size block of mono float samples in [-1, 1].
type Frame struct {
	Seq        uint64
	Samples    []float32
	SampleRate int
}

// FrameFunc consumes frames synchronously on the capture goroutine. It must not block.
type FrameFunc func(Frame)

// Capturer starts microphone capture sessions.
type Capturer interface {
	Start(ctx context.Context, consume FrameFunc) (Handle, error)
}

// Handle controls one running capture.
type Handle interface {
	// Stop halts production. No frame is delivered after Stop returns.
	Stop() error
	Device() Device
	FramesCaptured() uint64
}

// PulseCapturer captures from a Pulse source selected by input/fallback preference.
type PulseCapturer struct {
	Input      string
	Fallback   string
	SampleRate int
	FrameSize  int
	Logger     *slog.Logger
}

// Start selects the device and begins delivering frames to consume.
func (p PulseCapturer) Start(ctx context.Context, consume FrameFunc) (Handle, error) {
	if consume == nil {
		return nil, errors.New("audio frame consumer is nil")
	}

	selection, err := SelectDevice(ctx, p.Input, p.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureDenied, err)
	}
	if selection.Warning != "" && p.Logger != nil {
		p.Logger.Warn(selection.Warning)
	}

	capture, err := startCapture(ctx, selection.Device, p.sampleRate(), p.frameSize(), consume)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureDenied, err)
	}
	return capture, nil
}

func (p PulseCapturer) sampleRate() int {
	if p.SampleRate > 0 {
		return p.SampleRate
	}
	return DefaultSampleRate
}

func (p PulseCapturer) frameSize() int {
	if p.FrameSize > 0 {
		return p.FrameSize
	}
	return DefaultFrameSize
}

// Capture is one running Pulse record stream cut into fixed-size frames.
type Capture struct {
	device     Device
	sampleRate int
	frameSize  int
	consume    FrameFunc

	client *pulse.Client
	stream *pulse.RecordStream

	stopCh chan struct{}

	mu       sync.Mutex
	residual []byte
	pending  []float32
	seq      uint64
	stopped  bool

	inflight sync.WaitGroup
	frames   atomic.Uint64
}

func startCapture(ctx context.Context, device Device, sampleRate int, frameSize int, consume FrameFunc) (*Capture, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	c := newCapture(device, sampleRate, frameSize, consume)
	c.client = client

	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatFloat32LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(uint32(sampleRate/50*bytesPerFloat)),
		pulse.RecordMediaName("livescribe dictation"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	c.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.stopCh:
		}
	}()

	return c, nil
}

func newCapture(device Device, sampleRate int, frameSize int, consume FrameFunc) *Capture {
	return &Capture{
		device:     device,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		consume:    consume,
		stopCh:     make(chan struct{}),
		pending:    make([]float32, 0, frameSize),
	}
}

// Device returns the source this capture reads from.
func (c *Capture) Device() Device {
	return c.device
}

// FramesCaptured reports how many full frames were delivered.
func (c *Capture) FramesCaptured() uint64 {
	return c.frames.Load()
}

// Stop halts the stream and waits for in-flight deliveries. A trailing
// partial frame is discarded. Stop is idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	c.pending = nil
	c.residual = nil
	c.mu.Unlock()
	return nil
}

// onPCM receives raw float32 LE bytes from Pulse and emits full frames.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same lock as stopped so Stop's Wait cannot miss us.
	c.inflight.Add(1)
	defer c.inflight.Done()

	data := buffer
	if len(c.residual) > 0 {
		data = append(c.residual, buffer...)
	}
	whole := len(data) - len(data)%bytesPerFloat
	for off := 0; off < whole; off += bytesPerFloat {
		c.pending = append(c.pending, math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
	}
	c.residual = append([]byte(nil), data[whole:]...)

	var ready []Frame
	for len(c.pending) >= c.frameSize {
		samples := make([]float32, c.frameSize)
		copy(samples, c.pending[:c.frameSize])
		c.pending = append(c.pending[:0], c.pending[c.frameSize:]...)
		c.seq++
		ready = append(ready, Frame{Seq: c.seq, Samples: samples, SampleRate: c.sampleRate})
	}
	c.mu.Unlock()

	for _, frame := range ready {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		default:
		}
		c.consume(frame)
		c.frames.Add(1)
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
