// Package metrics records per-run job metrics and pushes them to a
// Prometheus Pushgateway. Short-lived runs cannot be scraped, so every run
// owns a fresh registry and pushes it once on completion.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"metric-alerts/internal/anomaly"
)

const (
	namespace  = "metric_alerts"
	defaultJob = "metric_alerts"
)

// Run holds the collectors for one pipeline run.
type Run struct {
	registry *prometheus.Registry

	value     *prometheus.GaugeVec
	deviation *prometheus.GaugeVec
	anomalous *prometheus.GaugeVec
	alerts    prometheus.Counter
	errors    *prometheus.CounterVec
	lastRun   prometheus.Gauge
	lastOK    prometheus.Gauge
	duration  prometheus.Gauge

	// ok is set by Finish; lastOK is only registered once the run succeeded.
	ok bool
}

// NewRun creates a registry with the run collectors registered.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Run{
		registry: reg,
		value: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_value",
			Help:      "Value of the metric in the latest completed bucket.",
		}, []string{"metric"}),
		deviation: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deviation_ratio",
			Help:      "Relative deviation of the latest bucket from its baseline.",
		}, []string{"metric", "baseline"}),
		anomalous: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalous",
			Help:      "1 when the metric breached both baselines in this run.",
		}, []string{"metric"}),
		alerts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alerts dispatched in this run.",
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_errors_total",
			Help:      "Errors recorded in this run by stage.",
		}, []string{"stage"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the run finished.",
		}),
		lastOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the run finished without errors.",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the run.",
		}),
	}
}

// Registry exposes the underlying gatherer.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveDecision records the values and deviations behind a decision.
func (r *Run) ObserveDecision(d anomaly.Decision) {
	r.value.WithLabelValues(d.Metric).Set(d.CurrentValue)
	r.deviation.WithLabelValues(d.Metric, "day").Set(d.DiffDay)
	r.deviation.WithLabelValues(d.Metric, "week").Set(d.DiffWeek)
	anomalous := 0.0
	if d.IsAnomalous {
		anomalous = 1
	}
	r.anomalous.WithLabelValues(d.Metric).Set(anomalous)
}

// AlertSent counts one dispatched alert.
func (r *Run) AlertSent() {
	r.alerts.Inc()
}

// Error counts a failure in stage (fetch, detect, render, dispatch).
func (r *Run) Error(stage string) {
	r.errors.WithLabelValues(stage).Inc()
}

// Finish stamps the run completion time and duration. The success timestamp
// is exported only when ok.
func (r *Run) Finish(started, finished time.Time, ok bool) {
	r.lastRun.Set(float64(finished.Unix()))
	r.duration.Set(finished.Sub(started).Seconds())
	if ok && !r.ok {
		r.registry.MustRegister(r.lastOK)
	}
	if ok {
		r.lastOK.Set(float64(finished.Unix()))
	}
	r.ok = r.ok || ok
}

// Pusher sends run registries to a Pushgateway.
type Pusher struct {
	url    string
	job    string
	logger zerolog.Logger
}

// NewPusher returns nil when url is empty so callers can skip pushing.
func NewPusher(url, job string, logger zerolog.Logger) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = defaultJob
	}
	return &Pusher{
		url:    url,
		job:    job,
		logger: logger.With().Str("component", "metrics_push").Logger(),
	}
}

// Push sends the run's collectors. A successful run replaces the job's metric
// group (PUT). A failed run is added with POST, which only overwrites the
// metrics it carries, so the last success timestamp of an earlier run stays.
func (p *Pusher) Push(ctx context.Context, run *Run) error {
	if p == nil || run == nil {
		return nil
	}

	pusher := push.New(p.url, p.job).Gatherer(run.registry)
	var err error
	if run.ok {
		err = pusher.PushContext(ctx)
	} else {
		err = pusher.AddContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("push run metrics: %w", err)
	}
	p.logger.Debug().Str("job", p.job).Bool("replace", run.ok).Msg("run metrics pushed")
	return nil
}
