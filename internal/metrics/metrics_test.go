package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.FrameCaptured()
	r.ChunkSent(10)
	r.ChunkDropped()
	r.QueueDepth(3)
	r.Transcript(true)
	r.Error("connect")
	r.Connected(time.Second)
	r.SessionFinished("committed", time.Second)
	require.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ChunkSent(640)
	r.ChunkSent(360)
	r.ChunkDropped()
	r.Transcript(false)
	r.Transcript(false)
	r.Transcript(true)
	r.Error("disconnected")
	r.SessionFinished("cancelled", 2*time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(r.ChunksSent))
	require.Equal(t, 1000.0, testutil.ToFloat64(r.BytesSent))
	require.Equal(t, 1.0, testutil.ToFloat64(r.ChunksDropped))
	require.Equal(t, 2.0, testutil.ToFloat64(r.Transcripts.WithLabelValues("partial")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.Transcripts.WithLabelValues("final")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.Errors.WithLabelValues("disconnected")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.Sessions.WithLabelValues("cancelled")))
}

func TestRecordersDoNotShareState(t *testing.T) {
	a, b := New(), New()
	a.FrameCaptured()
	require.Equal(t, 1.0, testutil.ToFloat64(a.FramesCaptured))
	require.Equal(t, 0.0, testutil.ToFloat64(b.FramesCaptured))
}

func TestServeExposesMetricsUntilCancelled(t *testing.T) {
	r := New()
	r.ChunkSent(4)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, listener, nil) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), "livescribe_chunks_sent_total 1")

	cancel()
	require.NoError(t, <-done)
}
