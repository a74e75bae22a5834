package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"metric-alerts/internal/config"
	"metric-alerts/internal/series"
)

var (
	// ErrNotConfigured indicates the source connection was not initialised.
	ErrNotConfigured = errors.New("source: connection not configured")
	// ErrEmptyResult indicates a query returned no rows for the requested window.
	ErrEmptyResult = errors.New("source: query returned no rows")
)

// Query is a named aggregation query. Its bind parameters, in order, are:
// grid width in seconds, week window start, week window end, recent window
// start, recent window end (exclusive).
type Query struct {
	Name string
	SQL  string
}

// Source answers time-windowed aggregation queries.
type Source interface {
	Fetch(ctx context.Context, q Query, w Window) (series.Table, error)
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Window bounds the two lookback ranges a run needs.
type Window struct {
	Grid time.Duration
	// Current is the latest completed bucket.
	Current     time.Time
	WeekStart   time.Time
	WeekEnd     time.Time
	RecentStart time.Time
	// RecentEnd is the start of the in-progress bucket and is exclusive.
	RecentEnd time.Time
}

// NewWindow derives the fetch window for a run at asOf: the whole day holding
// the week-ago bucket, and everything from the start of the day holding the
// day-ago bucket up to the last completed bucket.
func NewWindow(asOf time.Time, grid, dayOffset, weekOffset time.Duration, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	end := asOf.Truncate(grid)
	current := end.Add(-grid)
	weekStart := startOfDay(series.Before(current, weekOffset, loc), loc)

	return Window{
		Grid:        grid,
		Current:     current,
		WeekStart:   weekStart,
		WeekEnd:     weekStart.AddDate(0, 0, 1),
		RecentStart: startOfDay(series.Before(current, dayOffset, loc), loc),
		RecentEnd:   end,
	}
}

// GridSeconds returns the bucket width in whole seconds.
func (w Window) GridSeconds() int64 {
	return int64(w.Grid / time.Second)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Queries returns the configured queries, or the built-in ones for the
// driver when none are configured.
func Queries(cfg config.SourceConfig) []Query {
	if len(cfg.Queries) == 0 {
		return DefaultQueries(cfg.Driver)
	}
	out := make([]Query, 0, len(cfg.Queries))
	for _, q := range cfg.Queries {
		out = append(out, Query{Name: q.Name, SQL: q.SQL})
	}
	return out
}

// Open connects to the configured driver.
func Open(ctx context.Context, cfg config.SourceConfig, logger zerolog.Logger) (Source, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, cfg.QueryTimeout, logger)
	case DriverPostgres, "":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool, cfg.QueryTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source driver %q", cfg.Driver)
	}
}
