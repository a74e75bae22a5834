package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"metric-alerts/internal/render"
)

// Chart renders one metric over the current fetch window, either to a PNG
// file or as a terminal plot.
func (a *App) Chart(ctx context.Context, opts ChartOptions, out io.Writer) error {
	if opts.Metric == "" {
		return errors.New("--metric is required")
	}
	if !opts.ASCII && opts.PNGPath == "" {
		return errors.New("one of --out or --ascii must be provided")
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	s, window, err := a.newRunner(src).Load(ctx, asOfOrNow(opts.AsOf))
	if err != nil {
		return err
	}

	if opts.ASCII {
		plot, err := render.ASCIIRenderer{}.Render(s, opts.Metric)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(plot))
		return err
	}

	png, err := a.newRenderer().Render(s, opts.Metric)
	if err != nil {
		return err
	}
	if err := ensureDir(opts.PNGPath); err != nil {
		return err
	}
	if err := os.WriteFile(opts.PNGPath, png, 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}

	a.Logger.Info().
		Str("metric", opts.Metric).
		Str("path", opts.PNGPath).
		Time("current", window.Current).
		Int("bytes", len(png)).
		Msg("chart written")
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// formatDecimal renders a ratio as a percentage with two places.
func formatDecimal(ratio float64) string {
	return decimal.NewFromFloat(ratio).Shift(2).StringFixed(2) + "%"
}
