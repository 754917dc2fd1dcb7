package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/engine"
)

// Metrics provides Prometheus collectors for synchronization passes. It
// implements engine.MetricsRecorder.
type Metrics struct {
	config MetricsConfig

	passesTotal     *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	operationsTotal *prometheus.CounterVec
	unresolved      prometheus.Counter
	lastPass        prometheus.Gauge

	registry *prometheus.Registry
}

var _ engine.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates a metrics collector. A disabled configuration yields a
// collector whose methods do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "passes_total",
				Help:      "Total number of synchronization passes by mode and final status",
			},
			[]string{"mode", "status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of synchronization passes in seconds",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "operations_total",
				Help:      "Operations emitted by reconciliation, by bucket",
			},
			[]string{"bucket"},
		),
		unresolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "unresolved_addresses_total",
				Help:      "Addresses skipped because no resource registration matched",
			},
		),
		lastPass: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "last_pass_timestamp_seconds",
				Help:      "Unix time of the last completed pass",
			},
		),
	}

	registry.MustRegister(
		m.passesTotal,
		m.passDuration,
		m.operationsTotal,
		m.unresolved,
		m.lastPass,
	)
	return m, nil
}

// RecordPass records a finished pass.
func (m *Metrics) RecordPass(mode, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.passesTotal.WithLabelValues(mode, status).Inc()
	m.passDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.lastPass.SetToCurrentTime()
}

// RecordOperations adds count operations to a bucket.
func (m *Metrics) RecordOperations(bucket string, count int) {
	if m.registry == nil || count <= 0 {
		return
	}
	m.operationsTotal.WithLabelValues(bucket).Add(float64(count))
}

// RecordUnresolved adds skipped addresses.
func (m *Metrics) RecordUnresolved(count int) {
	if m.registry == nil || count <= 0 {
		return
	}
	m.unresolved.Add(float64(count))
}

// Registry exposes the collector registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", m.config.ListenAddress).Str("path", path).Msg("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
