package series

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	// DateLayout formats the calendar date label of an observation.
	DateLayout = "2006-01-02"
	// HMLayout formats the time-of-day label of an observation.
	HMLayout = "15:04"
)

var (
	// ErrMissingObservation indicates no observation exists at the requested ts.
	ErrMissingObservation = errors.New("series: observation not found")
	// ErrMissingMetric indicates the observation exists but carries no value for the metric.
	ErrMissingMetric = errors.New("series: metric not present in observation")
)

// Observation is one grid-aligned row of metric values.
type Observation struct {
	TS     time.Time
	Date   string
	HM     string
	Values map[string]float64
}

// Value returns the metric value and whether it is present.
func (o Observation) Value(metric string) (float64, bool) {
	v, ok := o.Values[metric]
	return v, ok
}

// Table is the raw result of a single source query.
type Table []Observation

// Series maps grid timestamps to observations.
type Series struct {
	byTS map[int64]Observation
}

// New builds a series from observations. The first observation for a ts wins.
func New(observations ...Observation) *Series {
	s := &Series{byTS: make(map[int64]Observation, len(observations))}
	for _, obs := range observations {
		s.add(obs)
	}
	return s
}

func (s *Series) add(obs Observation) {
	key := tsKey(obs.TS)
	if _, exists := s.byTS[key]; exists {
		return
	}
	if obs.Values == nil {
		obs.Values = map[string]float64{}
	}
	s.byTS[key] = obs
}

// Len returns the number of observations.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byTS)
}

// Latest returns the maximum ts held by the series.
func (s *Series) Latest() (time.Time, bool) {
	if s.Len() == 0 {
		return time.Time{}, false
	}
	var (
		latest int64
		found  bool
	)
	for key := range s.byTS {
		if !found || key > latest {
			latest = key
			found = true
		}
	}
	return s.byTS[latest].TS, true
}

// At returns the observation at ts.
func (s *Series) At(ts time.Time) (Observation, bool) {
	if s.Len() == 0 {
		return Observation{}, false
	}
	obs, ok := s.byTS[tsKey(ts)]
	return obs, ok
}

// Value looks up a metric value at ts.
func (s *Series) Value(ts time.Time, metric string) (float64, error) {
	obs, ok := s.At(ts)
	if !ok {
		return 0, fmt.Errorf("%w: ts=%s", ErrMissingObservation, ts.UTC().Format(time.RFC3339))
	}
	v, ok := obs.Value(metric)
	if !ok {
		return 0, fmt.Errorf("%w: metric=%s ts=%s", ErrMissingMetric, metric, ts.UTC().Format(time.RFC3339))
	}
	return v, nil
}

// Timestamps returns every ts in ascending order.
func (s *Series) Timestamps() []time.Time {
	if s.Len() == 0 {
		return nil
	}
	keys := make([]int64, 0, len(s.byTS))
	for key := range s.byTS {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]time.Time, len(keys))
	for i, key := range keys {
		out[i] = s.byTS[key].TS
	}
	return out
}

// Observations returns observations ordered by ts.
func (s *Series) Observations() []Observation {
	ts := s.Timestamps()
	out := make([]Observation, len(ts))
	for i, t := range ts {
		out[i] = s.byTS[tsKey(t)]
	}
	return out
}

// Join merges tables on ts with inner-join semantics: a ts absent from any
// table is dropped. Date/HM labels come from the first table that sets them.
func Join(tables ...Table) *Series {
	if len(tables) == 0 {
		return New()
	}

	indexed := make([]map[int64]Observation, len(tables))
	for i, table := range tables {
		idx := make(map[int64]Observation, len(table))
		for _, obs := range table {
			key := tsKey(obs.TS)
			if _, exists := idx[key]; !exists {
				idx[key] = obs
			}
		}
		indexed[i] = idx
	}

	out := New()
	for key, first := range indexed[0] {
		merged := Observation{
			TS:     first.TS,
			Date:   first.Date,
			HM:     first.HM,
			Values: make(map[string]float64, len(first.Values)),
		}
		copyValues(merged.Values, first.Values)

		complete := true
		for _, idx := range indexed[1:] {
			other, ok := idx[key]
			if !ok {
				complete = false
				break
			}
			if merged.Date == "" {
				merged.Date = other.Date
			}
			if merged.HM == "" {
				merged.HM = other.HM
			}
			copyValues(merged.Values, other.Values)
		}
		if complete {
			out.add(merged)
		}
	}
	return out
}

// Labelled returns a copy of the table with empty Date/HM labels derived from
// TS in the given location.
func (t Table) Labelled(loc *time.Location) Table {
	if loc == nil {
		loc = time.UTC
	}
	out := make(Table, len(t))
	for i, obs := range t {
		local := obs.TS.In(loc)
		if obs.Date == "" {
			obs.Date = local.Format(DateLayout)
		}
		if obs.HM == "" {
			obs.HM = local.Format(HMLayout)
		}
		out[i] = obs
	}
	return out
}

func copyValues(dst, src map[string]float64) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}

func tsKey(ts time.Time) int64 {
	return ts.UnixNano()
}

// Before moves ts back by offset. Whole-day offsets step back calendar days
// in loc, so the wall-clock time is kept across DST changes.
func Before(ts time.Time, offset time.Duration, loc *time.Location) time.Time {
	const day = 24 * time.Hour
	if offset <= 0 || offset%day != 0 {
		return ts.Add(-offset)
	}
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).AddDate(0, 0, -int(offset/day))
}
