package anomaly

import (
	"errors"
	"fmt"
	"math"
	"time"

	"metric-alerts/internal/series"
)

const (
	// DefaultThreshold is the relative deviation above which a baseline counts as breached.
	DefaultThreshold = 0.25
	// DefaultDayOffset locates the day-ago baseline.
	DefaultDayOffset = 24 * time.Hour
	// DefaultWeekOffset locates the week-ago baseline.
	DefaultWeekOffset = 7 * 24 * time.Hour
)

var (
	// ErrMissingBaseline indicates the current, day-ago or week-ago value is absent.
	ErrMissingBaseline = errors.New("anomaly: baseline observation missing")
	// ErrZeroBaseline indicates a zero baseline against a non-zero current value.
	ErrZeroBaseline = errors.New("anomaly: zero baseline")
	// ErrInvalidValue indicates a negative or non-finite input.
	ErrInvalidValue = errors.New("anomaly: invalid metric value")
)

// Options tune the detector.
type Options struct {
	Threshold  float64
	DayOffset  time.Duration
	WeekOffset time.Duration
	// Location is the calendar whole-day offsets are counted in. Nil means UTC.
	Location *time.Location
}

// Decision is the per-metric outcome of one evaluation.
type Decision struct {
	Metric       string
	IsAnomalous  bool
	CurrentTS    time.Time
	CurrentValue float64
	DayAgoValue  float64
	WeekAgoValue float64
	DiffDay      float64
	DiffWeek     float64
	Threshold    float64
}

// Detector compares the latest observation with its day-ago and week-ago baselines.
type Detector struct {
	opts Options
}

// NewDetector constructs a detector, filling zero offsets with defaults.
// A zero threshold is kept as is; callers wanting the default pass DefaultThreshold.
func NewDetector(opts Options) *Detector {
	if opts.DayOffset <= 0 {
		opts.DayOffset = DefaultDayOffset
	}
	if opts.WeekOffset <= 0 {
		opts.WeekOffset = DefaultWeekOffset
	}
	return &Detector{opts: opts}
}

// Threshold returns the configured threshold.
func (d *Detector) Threshold() float64 {
	return d.opts.Threshold
}

// Detect evaluates metric at the latest ts of s.
func (d *Detector) Detect(s *series.Series, metric string) (Decision, error) {
	decision := Decision{Metric: metric, Threshold: d.opts.Threshold}

	currentTS, ok := s.Latest()
	if !ok {
		return decision, fmt.Errorf("%w: %s: empty series", ErrMissingBaseline, metric)
	}
	decision.CurrentTS = currentTS

	var err error
	if decision.CurrentValue, err = lookup(s, currentTS, metric, "current"); err != nil {
		return decision, err
	}
	if decision.DayAgoValue, err = lookup(s, series.Before(currentTS, d.opts.DayOffset, d.opts.Location), metric, "day-ago"); err != nil {
		return decision, err
	}
	if decision.WeekAgoValue, err = lookup(s, series.Before(currentTS, d.opts.WeekOffset, d.opts.Location), metric, "week-ago"); err != nil {
		return decision, err
	}

	if decision.DiffDay, err = Deviation(decision.CurrentValue, decision.DayAgoValue); err != nil {
		return decision, fmt.Errorf("%s day-ago deviation: %w", metric, err)
	}
	if decision.DiffWeek, err = Deviation(decision.CurrentValue, decision.WeekAgoValue); err != nil {
		return decision, fmt.Errorf("%s week-ago deviation: %w", metric, err)
	}

	decision.IsAnomalous = decision.DiffDay > d.opts.Threshold && decision.DiffWeek > d.opts.Threshold
	return decision, nil
}

func lookup(s *series.Series, ts time.Time, metric, label string) (float64, error) {
	v, err := s.Value(ts, metric)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s value: %w", ErrMissingBaseline, metric, label, err)
	}
	return v, nil
}

// Deviation returns the relative distance between current a and baseline b,
// always dividing by the larger of the two: |a/b-1| when a <= b, |b/a-1|
// otherwise. Equal values yield 0, including 0 vs 0.
func Deviation(a, b float64) (float64, error) {
	if !valid(a) || !valid(b) {
		return 0, fmt.Errorf("%w: current=%v baseline=%v", ErrInvalidValue, a, b)
	}
	if a == b {
		return 0, nil
	}
	if b == 0 {
		return 0, fmt.Errorf("%w: current=%v", ErrZeroBaseline, a)
	}
	if a <= b {
		return math.Abs(a/b - 1), nil
	}
	return math.Abs(b/a - 1), nil
}

func valid(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
