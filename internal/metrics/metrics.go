// Package metrics exposes Prometheus collectors for index builds, asks and
// explain tasks. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	indexBuilds        *prometheus.CounterVec
	indexLoads         prometheus.Counter
	indexBuildDuration prometheus.Histogram
	embeddedChunks     prometheus.Counter
	asks               *prometheus.CounterVec
	askDuration        *prometheus.HistogramVec
	explainTasks       *prometheus.CounterVec
	pipelineState      *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		indexBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfchat_index_builds_total",
				Help: "Total number of vector index builds by result",
			},
			[]string{"result"},
		),
		indexLoads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfchat_index_loads_total",
				Help: "Total number of persisted vector indexes opened without re-embedding",
			},
		),
		indexBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdfchat_index_build_duration_seconds",
				Help:    "Duration of vector index builds in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
		),
		embeddedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfchat_embedded_chunks_total",
				Help: "Total number of document chunks embedded",
			},
		),
		asks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfchat_asks_total",
				Help: "Total number of questions by delivery mode and result",
			},
			[]string{"mode", "result"},
		),
		askDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdfchat_ask_duration_seconds",
				Help:    "Duration of answered questions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"mode"},
		),
		explainTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfchat_explain_tasks_total",
				Help: "Total number of finished explain tasks by mode and final state",
			},
			[]string{"mode", "state"},
		),
		pipelineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pdfchat_pipeline_state",
				Help: "1 for the current state of the answer pipeline, 0 otherwise",
			},
			[]string{"state"},
		),
	}

	m.registry.MustRegister(
		m.indexBuilds, m.indexLoads, m.indexBuildDuration, m.embeddedChunks,
		m.asks, m.askDuration, m.explainTasks, m.pipelineState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IndexBuilt records a finished build.
func (m *Metrics) IndexBuilt(err error, d time.Duration, chunks int) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexBuilds.WithLabelValues("error").Inc()
		return
	}
	m.indexBuilds.WithLabelValues("ok").Inc()
	m.indexBuildDuration.Observe(d.Seconds())
	m.embeddedChunks.Add(float64(chunks))
}

// IndexLoaded records a persisted index being reused.
func (m *Metrics) IndexLoaded() {
	if m == nil {
		return
	}
	m.indexLoads.Inc()
}

// Asked records one question. result is "ok", "error" or "not_ready".
func (m *Metrics) Asked(mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.asks.WithLabelValues(mode, result).Inc()
	if result == "ok" {
		m.askDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

// ExplainFinished records an explain task reaching a final state.
func (m *Metrics) ExplainFinished(mode, state string) {
	if m == nil {
		return
	}
	m.explainTasks.WithLabelValues(mode, state).Inc()
}

// SetPipelineState marks state as current and clears the others.
func (m *Metrics) SetPipelineState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.pipelineState.WithLabelValues(s).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
