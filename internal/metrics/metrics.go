// Package metrics exposes playback and host lifecycle measurements to
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/readaloud/internal/supervisor"
)

const namespace = "readaloud"

// Metrics implements host.Recorder and supervisor.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	fetchDuration *prometheus.HistogramVec
	fetchBytes    prometheus.Counter
	fetchesTotal  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	retriesTotal  prometheus.Counter
	skippedTotal  prometheus.Counter

	hostCreates      *prometheus.CounterVec
	hostAttempts     prometheus.Histogram
	heartbeatsFailed prometheus.Counter
	sessionsTotal    *prometheus.CounterVec

	playing      prometheus.Gauge
	currentChunk prometheus.Gauge
	totalChunks  prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of speech synthesis requests in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}), // kind: playback, prefetch
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Total bytes of audio received",
		}),
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Total number of speech synthesis requests",
		}, []string{"status"}), // status: success, error
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Audio cache lookups",
		}, []string{"result"}), // result: hit, miss
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_retries_total",
			Help:      "Chunk fetches retried after a failure",
		}),
		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_skipped_total",
			Help:      "Chunks skipped after exhausting retries",
		}),
		hostCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_creations_total",
			Help:      "Playback host creations",
		}, []string{"status"}),
		hostAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_creation_attempts",
			Help:      "Attempts needed to create a playback host",
			Buckets:   []float64{1, 2, 3},
		}),
		heartbeatsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_failures_total",
			Help:      "Liveness checks the host did not answer",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished playback sessions by outcome",
		}, []string{"outcome"}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing",
			Help:      "1 while a session is playing",
		}),
		currentChunk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_chunk",
			Help:      "Index of the chunk being played",
		}),
		totalChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_chunks",
			Help:      "Number of chunks in the current session",
		}),
	}

	m.registry.MustRegister(
		m.fetchDuration, m.fetchBytes, m.fetchesTotal, m.cacheLookups,
		m.retriesTotal, m.skippedTotal, m.hostCreates, m.hostAttempts,
		m.heartbeatsFailed, m.sessionsTotal, m.playing, m.currentChunk, m.totalChunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FetchCompleted implements host.Recorder.
func (m *Metrics) FetchCompleted(prefetch bool, d time.Duration, bytes int, err error) {
	kind := "playback"
	if prefetch {
		kind = "prefetch"
	}
	m.fetchDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		m.fetchesTotal.WithLabelValues("error").Inc()
		return
	}
	m.fetchesTotal.WithLabelValues("success").Inc()
	m.fetchBytes.Add(float64(bytes))
}

// CacheLookup implements host.Recorder.
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ChunkRetried implements host.Recorder.
func (m *Metrics) ChunkRetried() { m.retriesTotal.Inc() }

// ChunkSkipped implements host.Recorder.
func (m *Metrics) ChunkSkipped() { m.skippedTotal.Inc() }

// HostCreated implements supervisor.Recorder.
func (m *Metrics) HostCreated(attempts int) {
	m.hostCreates.WithLabelValues("success").Inc()
	m.hostAttempts.Observe(float64(attempts))
}

// HostCreateFailed implements supervisor.Recorder.
func (m *Metrics) HostCreateFailed() { m.hostCreates.WithLabelValues("error").Inc() }

// HeartbeatFailed implements supervisor.Recorder.
func (m *Metrics) HeartbeatFailed() { m.heartbeatsFailed.Inc() }

// SessionFinished implements supervisor.Recorder.
func (m *Metrics) SessionFinished(outcome string) {
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

// Observe records a status snapshot.
func (m *Metrics) Observe(st supervisor.Status) {
	if st.IsPlaying {
		m.playing.Set(1)
	} else {
		m.playing.Set(0)
	}
	m.currentChunk.Set(float64(st.CurrentChunk))
	m.totalChunks.Set(float64(st.TotalChunks))
}

// Watch records every status broadcast until ctx is done or the channel closes.
func (m *Metrics) Watch(ctx context.Context, updates <-chan supervisor.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			m.Observe(st)
		}
	}
}
