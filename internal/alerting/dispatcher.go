package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metric-alerts/internal/anomaly"
)

// ErrNoDestination indicates neither a per-run nor a default destination is set.
var ErrNoDestination = errors.New("alerting: no destination configured")

const timestampLayout = "2006-01-02 15:04:05"

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	DefaultDestination string
	DashboardURL       string
	Location           *time.Location
}

// Dispatcher formats decisions and hands them to a Channel.
type Dispatcher struct {
	channel Channel
	opts    DispatcherOptions
	logger  zerolog.Logger
}

// NewDispatcher constructs a dispatcher over channel.
func NewDispatcher(channel Channel, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Dispatcher{
		channel: channel,
		opts:    opts,
		logger:  logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Dispatch sends decision and its chart to the default destination.
func (d *Dispatcher) Dispatch(ctx context.Context, decision anomaly.Decision, chart []byte) error {
	return d.DispatchTo(ctx, "", decision, chart)
}

// DispatchTo sends the alert text, then the chart image, to dest or the
// default destination when dest is empty. Both sends are attempted; their
// errors are joined.
func (d *Dispatcher) DispatchTo(ctx context.Context, dest string, decision anomaly.Decision, chart []byte) error {
	if dest == "" {
		dest = d.opts.DefaultDestination
	}
	if dest == "" {
		return ErrNoDestination
	}

	var errs []error
	if err := d.channel.SendText(ctx, dest, d.Message(decision)); err != nil {
		errs = append(errs, fmt.Errorf("send %s text: %w", decision.Metric, err))
	}
	if len(chart) > 0 {
		if err := d.channel.SendImage(ctx, dest, decision.Metric+".png", chart); err != nil {
			errs = append(errs, fmt.Errorf("send %s chart: %w", decision.Metric, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.logger.Info().
		Str("metric", decision.Metric).
		Str("dest", dest).
		Time("ts", decision.CurrentTS).
		Msg("alert dispatched")
	return nil
}

// Message renders the alert text for decision.
func (d *Dispatcher) Message(decision anomaly.Decision) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("❗Metric %s %s❗\n", decision.Metric, decision.CurrentTS.In(d.opts.Location).Format(timestampLayout)))
	builder.WriteString(fmt.Sprintf("Current value = %s.\n", decimal.NewFromFloat(decision.CurrentValue).StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Deviation from yesterday: %s%%.\n", percent(decision.DiffDay)))
	builder.WriteString(fmt.Sprintf("Deviation from a week ago: %s%%.\n", percent(decision.DiffWeek)))
	if d.opts.DashboardURL != "" {
		builder.WriteString("\nDashboard:\n")
		builder.WriteString(d.opts.DashboardURL)
	}
	return builder.String()
}

func percent(ratio float64) string {
	return decimal.NewFromFloat(ratio).Shift(2).StringFixed(2)
}
