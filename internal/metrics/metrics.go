// Package metrics records streaming pipeline counters in a per-process Prometheus registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livescribe"

// Recorder owns one registry. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	FramesCaptured   prometheus.Counter
	ChunksSent       prometheus.Counter
	ChunksDropped    prometheus.Counter
	BytesSent        prometheus.Counter
	Transcripts      *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	ConnectLatency   prometheus.Histogram
	SessionDuration  prometheus.Histogram
	OutboxQueueDepth prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Microphone frames delivered by capture.",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Encoded audio chunks written to the session channel.",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks discarded because the outbound queue was full.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Audio payload bytes written to the session channel.",
		}),
		Transcripts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Transcript events received, by finality.",
		}, []string{"finality"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Pipeline errors by kind.",
		}, []string{"kind"}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Completed sessions by outcome.",
		}, []string{"outcome"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Time from dial to an active session channel.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a streaming session.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		OutboxQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_queue_depth",
			Help:      "Messages waiting in the session channel outbound queue.",
		}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) FrameCaptured() {
	if r == nil {
		return
	}
	r.FramesCaptured.Inc()
}

func (r *Recorder) ChunkSent(bytes int) {
	if r == nil {
		return
	}
	r.ChunksSent.Inc()
	r.BytesSent.Add(float64(bytes))
}

func (r *Recorder) ChunkDropped() {
	if r == nil {
		return
	}
	r.ChunksDropped.Inc()
}

func (r *Recorder) QueueDepth(n int) {
	if r == nil {
		return
	}
	r.OutboxQueueDepth.Set(float64(n))
}

func (r *Recorder) Transcript(final bool) {
	if r == nil {
		return
	}
	label := "partial"
	if final {
		label = "final"
	}
	r.Transcripts.WithLabelValues(label).Inc()
}

// Error counts one failure; kind is a short stable label such as "connect".
func (r *Recorder) Error(kind string) {
	if r == nil {
		return
	}
	r.Errors.WithLabelValues(kind).Inc()
}

func (r *Recorder) Connected(latency time.Duration) {
	if r == nil {
		return
	}
	r.ConnectLatency.Observe(latency.Seconds())
}

// SessionFinished records the outcome ("committed", "cancelled", "failed", "empty").
func (r *Recorder) SessionFinished(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.Sessions.WithLabelValues(outcome).Inc()
	r.SessionDuration.Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	return r.serve(ctx, listener, logger)
}

func (r *Recorder) serve(ctx context.Context, listener net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("metrics listener started", "addr", listener.Addr().String())
	}
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
