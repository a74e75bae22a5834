package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"metric-alerts/internal/alerting"
	"metric-alerts/internal/anomaly"
	"metric-alerts/internal/config"
	"metric-alerts/internal/metrics"
	"metric-alerts/internal/render"
	"metric-alerts/internal/scheduler"
	"metric-alerts/internal/service"
	"metric-alerts/internal/source"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// RunOptions hold parameters for a single pass.
type RunOptions struct {
	AsOf   *time.Time
	Chat   string
	DryRun bool
}

// ChartOptions configure the chart command.
type ChartOptions struct {
	AsOf    *time.Time
	Metric  string
	PNGPath string
	ASCII   bool
}

// SimulateOptions carry synthetic values for simulate-alert.
type SimulateOptions struct {
	Metric  string
	Current float64
	DayAgo  float64
	WeekAgo float64
	Chat    string
}

func (a *App) openSource(ctx context.Context) (source.Source, error) {
	src, err := source.Open(ctx, a.Config.Source, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return src, nil
}

func (a *App) newDetector() *anomaly.Detector {
	return anomaly.NewDetector(anomaly.Options{
		Threshold:  a.Config.Detector.Threshold,
		DayOffset:  a.Config.Detector.DayOffset,
		WeekOffset: a.Config.Detector.WeekOffset,
		Location:   a.location(),
	})
}

func (a *App) newRenderer() render.Renderer {
	return render.NewChartRenderer(a.Config.Chart.Width, a.Config.Chart.Height)
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	channel := alerting.NewTelegramChannel(cfg.BotToken, cfg.APIBase, cfg.Timeout, a.Logger)
	return alerting.NewDispatcher(channel, alerting.DispatcherOptions{
		DefaultDestination: cfg.ChatID,
		DashboardURL:       a.Config.Alerting.DashboardURL,
		Location:           a.location(),
	}, a.Logger)
}

func (a *App) newRunner(src source.Source) *service.Runner {
	var dispatcher service.Dispatcher
	if d := a.newDispatcher(); d != nil {
		dispatcher = d
	}

	return service.New(
		src,
		a.newDetector(),
		a.newRenderer(),
		dispatcher,
		metrics.NewPusher(a.Config.Metrics.PushgatewayURL, a.Config.Metrics.Job, a.Logger),
		service.Options{
			Queries:    source.Queries(a.Config.Source),
			Metrics:    a.Config.Detector.Metrics,
			Grid:       a.Config.Detector.GridInterval,
			DayOffset:  a.Config.Detector.DayOffset,
			WeekOffset: a.Config.Detector.WeekOffset,
			Location:   a.location(),
			LockKey:    a.Config.Scheduler.AdvisoryLockKey,
		},
		a.Logger,
	)
}

// location returns the validated app timezone.
func (a *App) location() *time.Location {
	loc, err := a.Config.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

func asOfOrNow(asOf *time.Time) time.Time {
	if asOf != nil {
		return *asOf
	}
	return time.Now().UTC()
}

// Run executes one extract, compare and notify pass and exits.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	runner := a.newRunner(src)
	_, err = runner.RunOnce(ctx, asOfOrNow(opts.AsOf), service.RunOptions{
		Chat:   opts.Chat,
		DryRun: opts.DryRun,
	})
	return err
}

// Serve executes the long-running aligned loop.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	if !a.Config.Alerting.Enabled {
		a.Logger.Warn().Msg("alerting disabled; anomalies will only be logged")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Retries:      a.Config.Scheduler.Retries,
		RetryDelay:   a.Config.Scheduler.RetryDelay,
	}, a.Logger)

	runner := a.newRunner(src)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Strs("metrics", a.Config.Detector.Metrics).
		Msg("starting alert loop")
	err = runner.Serve(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("alert loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert loop stopped")
	return nil
}
