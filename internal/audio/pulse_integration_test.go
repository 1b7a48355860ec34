//go:build integration

package audio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListDevicesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	devices, err := ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)
}

func TestPulseCapturerDeliversFramesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames atomic.Int32
	handle, err := PulseCapturer{FrameSize: 1600}.Start(ctx, func(Frame) { frames.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return frames.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, handle.Stop())

	after := frames.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, after, frames.Load())
}
