package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueError
)

func (k cueKind) String() string {
	switch k {
	case cueStart:
		return "start"
	case cueStop:
		return "stop"
	case cueComplete:
		return "complete"
	case cueError:
		return "error"
	default:
		return fmt.Sprintf("cue(%d)", int(k))
	}
}

const (
	cueSampleRate = 16000
	cueGap        = 22 * time.Millisecond
	cueVolume     = 0.18
)

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var cuePCM = map[cueKind][]int16{
	cueStart: synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: cueVolume},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: cueVolume},
	}),
	cueStop: synthesizeCue([]toneSpec{
		{frequencyHz: 620, duration: 120 * time.Millisecond, volume: cueVolume},
	}),
	cueComplete: synthesizeCue([]toneSpec{
		{frequencyHz: 740, duration: 65 * time.Millisecond, volume: cueVolume},
		{frequencyHz: 988, duration: 90 * time.Millisecond, volume: cueVolume},
	}),
	cueError: synthesizeCue([]toneSpec{
		{frequencyHz: 480, duration: 75 * time.Millisecond, volume: cueVolume},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: cueVolume},
		{frequencyHz: 300, duration: 110 * time.Millisecond, volume: cueVolume},
	}),
}

// emitCue plays the synthesized cue through the Pulse server.
func emitCue(kind cueKind) error {
	samples := cuePCM[kind]
	if len(samples) == 0 {
		return fmt.Errorf("unknown cue %s", kind)
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("livescribe"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	stream, err := client.NewPlayback(
		sampleReader(samples),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("livescribe "+kind.String()+" cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// sampleReader feeds samples once, then reports end of data.
func sampleReader(samples []int16) pulse.Reader {
	cursor := 0
	return pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})
}

func synthesizeCue(parts []toneSpec) []int16 {
	gap := samplesForDuration(cueGap)
	var out []int16
	for i, part := range parts {
		if i > 0 {
			out = append(out, make([]int16, gap)...)
		}
		out = append(out, synthesizeTone(part)...)
	}
	return out
}

// synthesizeTone renders a sine with a short linear attack and release so
// the cue does not click.
func synthesizeTone(tone toneSpec) []int16 {
	n := samplesForDuration(tone.duration)
	if n <= 0 || tone.frequencyHz <= 0 || tone.volume <= 0 {
		return nil
	}

	ramp := min(max(n/10, 1), cueSampleRate/200)

	out := make([]int16, n)
	for i := range n {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / cueSampleRate
		out[i] = int16(math.Round(math.Sin(2*math.Pi*tone.frequencyHz*t) * tone.volume * envelope * math.MaxInt16))
	}
	return out
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
