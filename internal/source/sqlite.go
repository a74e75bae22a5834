package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"

	"metric-alerts/internal/series"
)

const (
	// DriverPostgres selects the pgx-backed source.
	DriverPostgres = "postgres"
	// DriverSQLite selects the modernc SQLite source.
	DriverSQLite = "sqlite"
)

// SQLite runs aggregation queries against a local SQLite database, for
// offline replays of exported event tables.
type SQLite struct {
	db      *sql.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// OpenSQLite opens and pings the database at dsn.
func OpenSQLite(ctx context.Context, dsn string, timeout time.Duration, logger zerolog.Logger) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("source.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLite(db, timeout, logger), nil
}

// NewSQLite wraps an already opened database.
func NewSQLite(db *sql.DB, timeout time.Duration, logger zerolog.Logger) *SQLite {
	return &SQLite{
		db:      db,
		timeout: timeout,
		logger:  logger.With().Str("component", "source_sqlite").Logger(),
	}
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Fetch executes q over w. Window bounds are bound as unix seconds.
func (s *SQLite) Fetch(ctx context.Context, q Query, w Window) (series.Table, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, q.SQL,
		w.GridSeconds(),
		w.WeekStart.Unix(),
		w.WeekEnd.Unix(),
		w.RecentStart.Unix(),
		w.RecentEnd.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", q.Name, err)
	}

	table := make(series.Table, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("read %s row: %w", q.Name, err)
		}
		obs, err := rowToObservation(columns, values)
		if err != nil {
			return nil, fmt.Errorf("decode %s row: %w", q.Name, err)
		}
		table = append(table, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", q.Name, err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("%s: %w", q.Name, ErrEmptyResult)
	}

	s.logger.Debug().Str("query", q.Name).Int("rows", len(table)).Msg("query complete")
	return table, nil
}

var _ Source = (*SQLite)(nil)
