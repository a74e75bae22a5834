package render

import (
	"errors"

	"metric-alerts/internal/series"
)

// ErrNoData indicates the series holds no observations for the metric.
var ErrNoData = errors.New("render: no data for metric")

// Renderer turns one metric of a series into a report artefact.
type Renderer interface {
	Render(s *series.Series, metric string) ([]byte, error)
}

func linesFor(s *series.Series, metric string) ([]series.Line, error) {
	if s == nil {
		return nil, ErrNoData
	}
	lines := s.Lines(metric)
	if len(lines) == 0 {
		return nil, ErrNoData
	}
	return lines, nil
}
