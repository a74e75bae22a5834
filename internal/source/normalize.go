package source

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"metric-alerts/internal/series"
)

const (
	columnTS   = "ts"
	columnDate = "date"
	columnHM   = "hm"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// rowToObservation maps a generic result row onto an observation. NULL
// aggregates are left out of Values so they surface as missing metrics.
func rowToObservation(columns []string, values []any) (series.Observation, error) {
	if len(columns) != len(values) {
		return series.Observation{}, fmt.Errorf("row has %d values for %d columns", len(values), len(columns))
	}

	obs := series.Observation{Values: make(map[string]float64, len(columns))}
	var haveTS bool
	for i, raw := range columns {
		name := strings.ToLower(strings.TrimSpace(raw))
		value := values[i]

		switch name {
		case columnTS:
			ts, err := toTime(value)
			if err != nil {
				return series.Observation{}, fmt.Errorf("column ts: %w", err)
			}
			obs.TS = ts
			haveTS = true
		case columnDate:
			obs.Date = toLabel(value, series.DateLayout)
		case columnHM:
			obs.HM = toLabel(value, series.HMLayout)
		default:
			if value == nil {
				continue
			}
			d, ok, err := toDecimal(value)
			if err != nil {
				return series.Observation{}, fmt.Errorf("column %s: %w", name, err)
			}
			if !ok {
				continue
			}
			obs.Values[name] = d.InexactFloat64()
		}
	}
	if !haveTS {
		return series.Observation{}, fmt.Errorf("result has no %q column", columnTS)
	}
	return obs, nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case pgtype.Timestamptz:
		if !t.Valid {
			return time.Time{}, fmt.Errorf("null timestamp")
		}
		return t.Time, nil
	case pgtype.Timestamp:
		if !t.Valid {
			return time.Time{}, fmt.Errorf("null timestamp")
		}
		return t.Time, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case []byte:
		return parseTimestamp(string(t))
	case string:
		return parseTimestamp(t)
	case nil:
		return time.Time{}, fmt.Errorf("null timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func toLabel(v any, layout string) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case pgtype.Date:
		if t.Valid {
			return t.Time.Format(layout)
		}
	case []byte:
		return string(t)
	case string:
		return t
	}
	return ""
}

// toDecimal converts driver values into a decimal. ok is false for NULLs and
// non-finite numerics.
func toDecimal(v any) (decimal.Decimal, bool, error) {
	switch n := v.(type) {
	case int64:
		return decimal.NewFromInt(n), true, nil
	case int32:
		return decimal.NewFromInt32(n), true, nil
	case int:
		return decimal.NewFromInt(int64(n)), true, nil
	case float64:
		return decimal.NewFromFloat(n), true, nil
	case float32:
		return decimal.NewFromFloat32(n), true, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Decimal{}, false, fmt.Errorf("parse %q: %w", n, err)
		}
		return d, true, nil
	case []byte:
		return toDecimal(string(n))
	case pgtype.Numeric:
		if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
			return decimal.Decimal{}, false, nil
		}
		if n.Int == nil {
			return decimal.Zero, true, nil
		}
		return decimal.NewFromBigInt(new(big.Int).Set(n.Int), n.Exp), true, nil
	case decimal.Decimal:
		return n, true, nil
	default:
		return decimal.Decimal{}, false, fmt.Errorf("unsupported numeric type %T", v)
	}
}
