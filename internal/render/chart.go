package render

import (
	"bytes"
	"fmt"

	chart "github.com/wcharczuk/go-chart/v2"

	"metric-alerts/internal/series"
)

const (
	minutesPerDay = 24 * 60
	tickStep      = 120

	defaultWidth  = 1600
	defaultHeight = 1000
)

// ChartRenderer draws one line per calendar date on a shared time-of-day axis
// and returns PNG bytes.
type ChartRenderer struct {
	width  int
	height int
}

// NewChartRenderer constructs a PNG renderer. Non-positive sizes fall back to 1600x1000.
func NewChartRenderer(width, height int) *ChartRenderer {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return &ChartRenderer{width: width, height: height}
}

// Render implements Renderer.
func (r *ChartRenderer) Render(s *series.Series, metric string) ([]byte, error) {
	lines, err := linesFor(s, metric)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", metric, err)
	}

	plotted := make([]chart.Series, 0, len(lines))
	maxValue := 0.0
	for _, line := range lines {
		xs := make([]float64, 0, len(line.Points))
		ys := make([]float64, 0, len(line.Points))
		for _, p := range line.Points {
			if p.Minute < 0 {
				continue
			}
			xs = append(xs, float64(p.Minute))
			ys = append(ys, p.Value)
			if p.Value > maxValue {
				maxValue = p.Value
			}
		}
		if len(xs) == 0 {
			continue
		}
		plotted = append(plotted, chart.ContinuousSeries{
			Name:    line.Date,
			XValues: xs,
			YValues: ys,
		})
	}
	if len(plotted) == 0 {
		return nil, fmt.Errorf("%s: %w", metric, ErrNoData)
	}

	yMax := maxValue * 1.1
	if yMax <= 0 {
		yMax = 1
	}

	graph := chart.Chart{
		Title:  metric,
		Width:  r.width,
		Height: r.height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "time",
			Ticks: dayTicks(),
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: yMax},
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render %s chart: %w", metric, err)
	}
	return buf.Bytes(), nil
}

// dayTicks labels the x axis every two hours from 00:00 to 24:00.
func dayTicks() []chart.Tick {
	ticks := make([]chart.Tick, 0, minutesPerDay/tickStep+1)
	for m := 0; m <= minutesPerDay; m += tickStep {
		ticks = append(ticks, chart.Tick{
			Value: float64(m),
			Label: fmt.Sprintf("%02d:%02d", m/60, m%60),
		})
	}
	return ticks
}

var _ Renderer = (*ChartRenderer)(nil)
