package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metric-alerts/internal/series"
)

func sampleSeries() *series.Series {
	var obs []series.Observation
	for _, day := range []int{1, 7, 8} {
		for slot := 0; slot < 4; slot++ {
			ts := time.Date(2024, 1, day, 9, slot*15, 0, 0, time.UTC)
			obs = append(obs, series.Observation{
				TS:     ts,
				Values: map[string]float64{"views": float64(100 + day*10 + slot)},
			})
		}
	}
	return series.New(series.Table(obs).Labelled(time.UTC)...)
}

func TestChartRendererPNG(t *testing.T) {
	r := NewChartRenderer(800, 500)
	png, err := r.Render(sampleSeries(), "views")
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
}

func TestChartRendererAllZero(t *testing.T) {
	ts := time.Date(2024, 1, 8, 9, 45, 0, 0, time.UTC)
	s := series.New(series.Table{{TS: ts, Values: map[string]float64{"likes": 0}}}.Labelled(time.UTC)...)

	png, err := NewChartRenderer(0, 0).Render(s, "likes")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestChartRendererMissingMetric(t *testing.T) {
	_, err := NewChartRenderer(800, 500).Render(sampleSeries(), "ctr")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = NewChartRenderer(800, 500).Render(nil, "views")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDayTicks(t *testing.T) {
	ticks := dayTicks()
	require.Len(t, ticks, 13)
	assert.Equal(t, "00:00", ticks[0].Label)
	assert.Equal(t, "02:00", ticks[1].Label)
	assert.Equal(t, "24:00", ticks[12].Label)
	assert.Equal(t, 1440.0, ticks[12].Value)
}

func TestASCIIRenderer(t *testing.T) {
	out, err := ASCIIRenderer{Height: 6}.Render(sampleSeries(), "views")
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "views")
	for _, date := range []string{"2024-01-01", "2024-01-07", "2024-01-08"} {
		assert.Contains(t, text, date)
	}
	assert.GreaterOrEqual(t, strings.Count(text, "\n"), 6)
}

func TestASCIIRendererGaps(t *testing.T) {
	s := series.New(series.Table{
		{TS: time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC), Values: map[string]float64{"views": 5}},
		{TS: time.Date(2024, 1, 7, 9, 15, 0, 0, time.UTC), Values: map[string]float64{"views": 6}},
		{TS: time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC), Values: map[string]float64{"views": 7}},
	}.Labelled(time.UTC)...)

	lines := s.Lines("views")
	slots := slotIndex(lines)
	assert.Equal(t, map[string]int{"09:00": 0, "09:15": 1}, slots)

	_, err := ASCIIRenderer{}.Render(s, "views")
	require.NoError(t, err)
}

func TestASCIIRendererMissingMetric(t *testing.T) {
	_, err := ASCIIRenderer{}.Render(sampleSeries(), "ctr")
	assert.ErrorIs(t, err, ErrNoData)
}
