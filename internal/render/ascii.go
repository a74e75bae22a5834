package render

import (
	"fmt"
	"math"
	"sort"

	"github.com/guptarohit/asciigraph"

	"metric-alerts/internal/series"
)

// ASCIIRenderer plots a metric in the terminal, one series per date aligned
// on the HH:MM labels seen across all dates.
type ASCIIRenderer struct {
	Height int
	Width  int
}

// Render implements Renderer.
func (r ASCIIRenderer) Render(s *series.Series, metric string) ([]byte, error) {
	lines, err := linesFor(s, metric)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", metric, err)
	}

	slots := slotIndex(lines)
	data := make([][]float64, len(lines))
	legends := make([]string, len(lines))
	for i, line := range lines {
		row := make([]float64, len(slots))
		for j := range row {
			row[j] = math.NaN()
		}
		for _, p := range line.Points {
			row[slots[p.HM]] = p.Value
		}
		data[i] = row
		legends[i] = line.Date
	}

	height := r.Height
	if height <= 0 {
		height = 15
	}
	opts := []asciigraph.Option{
		asciigraph.Height(height),
		asciigraph.LowerBound(0),
		asciigraph.Caption(metric),
		asciigraph.SeriesLegends(legends...),
		asciigraph.SeriesColors(palette(len(lines))...),
	}
	if r.Width > 0 {
		opts = append(opts, asciigraph.Width(r.Width))
	}

	return []byte(asciigraph.PlotMany(data, opts...)), nil
}

func slotIndex(lines []series.Line) map[string]int {
	seen := make(map[string]struct{})
	for _, line := range lines {
		for _, p := range line.Points {
			seen[p.HM] = struct{}{}
		}
	}
	hms := make([]string, 0, len(seen))
	for hm := range seen {
		hms = append(hms, hm)
	}
	sort.Strings(hms)

	index := make(map[string]int, len(hms))
	for i, hm := range hms {
		index[hm] = i
	}
	return index
}

func palette(n int) []asciigraph.AnsiColor {
	base := []asciigraph.AnsiColor{asciigraph.Blue, asciigraph.Red, asciigraph.Green, asciigraph.Yellow, asciigraph.Magenta}
	out := make([]asciigraph.AnsiColor, n)
	for i := range out {
		out[i] = base[i%len(base)]
	}
	return out
}

var _ Renderer = ASCIIRenderer{}
