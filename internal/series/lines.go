package series

import (
	"sort"
	"strconv"
	"strings"
)

// Point is a single value on a time-of-day axis.
type Point struct {
	HM     string
	Minute int
	Value  float64
}

// Line groups one calendar day of a metric for plotting.
type Line struct {
	Date   string
	Points []Point
}

// Lines restricts the series to one metric and groups it by Date, ordered by
// Date then HM. Observations without the metric are skipped.
func (s *Series) Lines(metric string) []Line {
	byDate := make(map[string][]Point)
	for _, obs := range s.Observations() {
		v, ok := obs.Value(metric)
		if !ok {
			continue
		}
		byDate[obs.Date] = append(byDate[obs.Date], Point{
			HM:     obs.HM,
			Minute: MinuteOfDay(obs.HM),
			Value:  v,
		})
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	lines := make([]Line, 0, len(dates))
	for _, date := range dates {
		points := byDate[date]
		sort.SliceStable(points, func(i, j int) bool { return points[i].HM < points[j].HM })
		lines = append(lines, Line{Date: date, Points: points})
	}
	return lines
}

// MinuteOfDay converts an "HH:MM" label to minutes since midnight, or -1 when
// the label is malformed.
func MinuteOfDay(hm string) int {
	hh, mm, ok := strings.Cut(hm, ":")
	if !ok {
		return -1
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return -1
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return -1
	}
	return h*60 + m
}
