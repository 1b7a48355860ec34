// Package pcm converts captured float audio frames into 16-bit PCM chunks.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rbright/livescribe/internal/audio"
)

// BytesPerSample is the encoded width of one mono PCM16 sample.
const BytesPerSample = 2

// Encoding selects the chunk payload representation.
type Encoding string

const (
	EncodingBinary Encoding = "binary"
	EncodingBase64 Encoding = "base64"
)

// Chunk is one encoded frame ready for a session channel.
type Chunk struct {
	Seq     uint64
	Samples int
	Data    []byte
}

// Empty reports whether the chunk carries no audio.
func (c Chunk) Empty() bool {
	return len(c.Data) == 0
}

// Encoder turns audio frames into chunks. The zero value encodes raw binary PCM.
type Encoder struct {
	Encoding Encoding
}

// Encode converts one frame. It is pure and safe for concurrent use.
func (e Encoder) Encode(frame audio.Frame) Chunk {
	raw := EncodePCM16(frame.Samples)
	chunk := Chunk{Seq: frame.Seq, Samples: len(frame.Samples)}
	if len(raw) == 0 {
		return chunk
	}

	if e.Encoding == EncodingBase64 {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
		base64.StdEncoding.Encode(out, raw)
		chunk.Data = out
		return chunk
	}
	chunk.Data = raw
	return chunk
}

// EncodePCM16 packs samples as signed 16-bit little-endian PCM.
func EncodePCM16(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(Quantize(s)))
	}
	return out
}

// Quantize maps one sample in [-1, 1] onto the int16 range.
// Out-of-range input is clamped and NaN is treated as silence.
func Quantize(sample float32) int16 {
	v := float64(sample)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	case v < 0:
		return int16(math.Round(v * 32768))
	default:
		return int16(math.Round(v * 32767))
	}
}

// DecodePCM16 reverses EncodePCM16 up to quantization error.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(data))
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		if v < 0 {
			out[i] = float32(v) / 32768
			continue
		}
		out[i] = float32(v) / 32767
	}
	return out, nil
}

// DecodeBase64 is the inverse of the base64 chunk encoding.
func DecodeBase64(data []byte) ([]float32, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 chunk: %w", err)
	}
	return DecodePCM16(raw[:n])
}
