package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metric-alerts/internal/anomaly"
	"metric-alerts/internal/metrics"
	"metric-alerts/internal/render"
	"metric-alerts/internal/scheduler"
	"metric-alerts/internal/series"
	"metric-alerts/internal/source"
)

// ErrFetch marks a pass that failed before any metric was evaluated.
var ErrFetch = errors.New("service: fetch failed")

// Dispatcher delivers an anomalous decision and its chart.
type Dispatcher interface {
	DispatchTo(ctx context.Context, dest string, d anomaly.Decision, chart []byte) error
}

// Options configure a Runner.
type Options struct {
	Queries    []source.Query
	Metrics    []string
	Grid       time.Duration
	DayOffset  time.Duration
	WeekOffset time.Duration
	Location   *time.Location
	LockKey    int64
}

// RunOptions tune a single pass.
type RunOptions struct {
	// Chat overrides the configured alert destination.
	Chat string
	// DryRun evaluates every metric with no alerts and no metrics push.
	DryRun bool
}

// Outcome is the per-metric result of a pass.
type Outcome struct {
	Decision anomaly.Decision
	Alerted  bool
	Err      error
}

// Report summarises one pass.
type Report struct {
	RunID      string
	AsOf       time.Time
	Window     source.Window
	Outcomes   []Outcome
	AlertsSent int
}

// Runner fetches the configured queries, joins them into a series and
// evaluates every metric against its baselines.
type Runner struct {
	source     source.Source
	detector   *anomaly.Detector
	renderer   render.Renderer
	dispatcher Dispatcher
	pusher     *metrics.Pusher
	locker     source.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger
}

// New constructs a Runner. renderer, dispatcher and pusher may be nil; a nil
// dispatcher logs anomalies without sending them.
func New(src source.Source, detector *anomaly.Detector, renderer render.Renderer, dispatcher Dispatcher, pusher *metrics.Pusher, opts Options, logger zerolog.Logger) *Runner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var locker source.AdvisoryLocker
	if l, ok := src.(source.AdvisoryLocker); ok {
		locker = l
	}

	return &Runner{
		source:     src,
		detector:   detector,
		renderer:   renderer,
		dispatcher: dispatcher,
		pusher:     pusher,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "runner").Logger(),
	}
}

// Load fetches every query for the window ending at asOf and joins the
// results on ts.
func (r *Runner) Load(ctx context.Context, asOf time.Time) (*series.Series, source.Window, error) {
	window := source.NewWindow(asOf, r.opts.Grid, r.opts.DayOffset, r.opts.WeekOffset, r.opts.Location)
	if len(r.opts.Queries) == 0 {
		return nil, window, errors.New("no source queries configured")
	}

	tables := make([]series.Table, 0, len(r.opts.Queries))
	for _, q := range r.opts.Queries {
		table, err := r.source.Fetch(ctx, q, window)
		if err != nil {
			return nil, window, fmt.Errorf("fetch %s: %w", q.Name, err)
		}
		tables = append(tables, table.Labelled(r.opts.Location))
	}

	s := series.Join(tables...)
	r.logger.Debug().
		Int("tables", len(tables)).
		Int("observations", s.Len()).
		Time("week_start", window.WeekStart).
		Time("recent_start", window.RecentStart).
		Time("recent_end", window.RecentEnd).
		Msg("series loaded")
	return s, window, nil
}

// RunOnce performs one extract, compare and notify pass. A fetch failure
// aborts the pass before any detection. Per-metric failures are collected
// and joined into the returned error after every metric was evaluated.
func (r *Runner) RunOnce(ctx context.Context, asOf time.Time, opts RunOptions) (Report, error) {
	started := time.Now()
	report := Report{RunID: uuid.NewString(), AsOf: asOf}
	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	run := metrics.NewRun()

	s, window, err := r.Load(ctx, asOf)
	report.Window = window
	if err != nil {
		run.Error("fetch")
		run.Finish(started, time.Now(), false)
		r.push(ctx, run, opts, logger)
		logger.Error().Err(err).Time("as_of", asOf).Msg("run aborted")
		return report, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	var errs []error
	for _, metric := range r.opts.Metrics {
		outcome := r.evaluate(ctx, s, metric, opts, run, logger)
		if outcome.Alerted {
			report.AlertsSent++
		}
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	runErr := errors.Join(errs...)
	run.Finish(started, time.Now(), runErr == nil)
	r.push(ctx, run, opts, logger)

	event := logger.Info()
	if runErr != nil {
		event = logger.Warn().Int("failed_metrics", len(errs))
	}
	event.Time("as_of", asOf).
		Time("current", window.Current).
		Int("metrics", len(report.Outcomes)).
		Int("alerts", report.AlertsSent).
		Bool("dry_run", opts.DryRun).
		Msg("run complete")

	return report, runErr
}

func (r *Runner) evaluate(ctx context.Context, s *series.Series, metric string, opts RunOptions, run *metrics.Run, logger zerolog.Logger) Outcome {
	decision, err := r.detector.Detect(s, metric)
	if err != nil {
		run.Error("detect")
		logger.Warn().Err(err).Str("metric", metric).Msg("metric skipped")
		return Outcome{Decision: decision, Err: fmt.Errorf("detect %s: %w", metric, err)}
	}
	run.ObserveDecision(decision)

	logger.Debug().
		Str("metric", metric).
		Float64("current", decision.CurrentValue).
		Float64("day_ago", decision.DayAgoValue).
		Float64("week_ago", decision.WeekAgoValue).
		Float64("diff_day", decision.DiffDay).
		Float64("diff_week", decision.DiffWeek).
		Bool("anomalous", decision.IsAnomalous).
		Msg("metric evaluated")

	outcome := Outcome{Decision: decision}
	if !decision.IsAnomalous || opts.DryRun {
		return outcome
	}
	if r.dispatcher == nil {
		logger.Warn().Str("metric", metric).Time("ts", decision.CurrentTS).Msg("anomaly detected; alerting disabled")
		return outcome
	}

	var chart []byte
	if r.renderer != nil {
		chart, err = r.renderer.Render(s, metric)
		if err != nil {
			// the text alert still goes out without the chart
			run.Error("render")
			logger.Error().Err(err).Str("metric", metric).Msg("chart render failed")
			outcome.Err = fmt.Errorf("render %s: %w", metric, err)
			chart = nil
		}
	}

	if err := r.dispatcher.DispatchTo(ctx, opts.Chat, decision, chart); err != nil {
		run.Error("dispatch")
		logger.Error().Err(err).Str("metric", metric).Msg("alert dispatch failed")
		outcome.Err = errors.Join(outcome.Err, fmt.Errorf("dispatch %s: %w", metric, err))
		return outcome
	}

	run.AlertSent()
	outcome.Alerted = true
	return outcome
}

// push is a no-op for dry runs.
func (r *Runner) push(ctx context.Context, run *metrics.Run, opts RunOptions, logger zerolog.Logger) {
	if opts.DryRun {
		return
	}
	if err := r.pusher.Push(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("metrics push failed")
	}
}

// Serve runs a pass on every scheduler tick until ctx is cancelled.
func (r *Runner) Serve(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, r.Tick)
}

// Tick 执行单个调度周期, 其他实例持有 advisory lock 时跳过。
// 仅 fetch 失败返回错误以触发调度器重试; 单个指标的失败只记录日志。
func (r *Runner) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := r.RunOnce(ctx, at, RunOptions{}); err != nil {
		if errors.Is(err, ErrFetch) {
			return err
		}
		r.logger.Error().Err(err).Time("at", at).Msg("tick finished with metric errors")
	}
	return nil
}

func (r *Runner) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.opts.LockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
