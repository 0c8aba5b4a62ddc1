// Package metrics provides Prometheus metrics for table-sync runs.
package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
)

// Config holds metrics configuration.
type Config struct {
	PushURL   string // Pushgateway URL; empty disables pushing
	Job       string
	Namespace string
}

// Metrics holds the metrics of one run. Each run uses its own registry so a
// push replaces the previous run's series.
type Metrics struct {
	registry *prometheus.Registry
	cfg      Config
	log      *slog.Logger

	TableOutcomes *prometheus.CounterVec
	RowsLoaded    *prometheus.CounterVec
	TableDuration *prometheus.HistogramVec

	RunSuccess       prometheus.Gauge
	RunDuration      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// New registers the run metrics on a fresh registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "table_sync"
	}
	if cfg.Job == "" {
		cfg.Job = "table_sync"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	ns := cfg.Namespace

	return &Metrics{
		registry: reg,
		cfg:      cfg,
		log:      slog.With("component", "metrics"),
		TableOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "outcomes_total",
				Help:      "Table outcomes by status",
			},
			[]string{"table", "status"},
		),
		RowsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rows_loaded_total",
				Help:      "Rows created or appended at the destination",
			},
			[]string{"table", "status"},
		),
		TableDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "table_duration_seconds",
				Help:      "Time to sync one table",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"table"},
		),
		RunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_success",
			Help:      "1 if the last run completed, 0 if it failed",
		}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// Registry exposes the run registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records the outcome of a run.
func (m *Metrics) Observe(summary *tablesync.JobSummary, runErr error) {
	m.LastRunTimestamp.SetToCurrentTime()
	if runErr != nil || summary == nil || !summary.Succeeded {
		m.RunSuccess.Set(0)
	} else {
		m.RunSuccess.Set(1)
	}
	if summary == nil {
		return
	}

	m.RunDuration.Set(summary.Duration().Seconds())
	for _, o := range summary.Outcomes {
		status := string(o.Status)
		m.TableOutcomes.WithLabelValues(o.Table, status).Inc()
		m.TableDuration.WithLabelValues(o.Table).Observe(o.Duration.Seconds())
		if o.Status.Loaded() && !o.DryRun {
			m.RowsLoaded.WithLabelValues(o.Table, status).Add(float64(o.RowCount))
		}
	}
}

// Report records the run and pushes it when a Pushgateway is configured.
func (m *Metrics) Report(ctx context.Context, runID string, summary *tablesync.JobSummary, runErr error) error {
	m.Observe(summary, runErr)
	if m.cfg.PushURL == "" {
		return nil
	}

	err := push.New(m.cfg.PushURL, m.cfg.Job).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	m.log.Debug("pushed metrics", "url", m.cfg.PushURL, "job", m.cfg.Job, "run_id", runID)
	return nil
}
