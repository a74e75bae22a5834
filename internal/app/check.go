package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"metric-alerts/internal/service"
)

// Check evaluates every metric without sending anything and prints the
// decisions as a table. It returns the joined per-metric error, if any.
func (a *App) Check(ctx context.Context, asOf *time.Time, out io.Writer) error {
	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	report, runErr := a.newRunner(src).RunOnce(ctx, asOfOrNow(asOf), service.RunOptions{DryRun: true})
	if len(report.Outcomes) == 0 {
		return runErr
	}

	if err := writeReport(out, report, a.location()); err != nil {
		return err
	}
	return runErr
}

func writeReport(out io.Writer, report service.Report, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s  current bucket %s\n\n", report.RunID, report.Window.Current.In(loc).Format("2006-01-02 15:04"))
	fmt.Fprintln(w, "METRIC\tCURRENT\tDAY AGO\tWEEK AGO\tDIFF DAY\tDIFF WEEK\tALERT")
	for _, o := range report.Outcomes {
		d := o.Decision
		if o.Err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\terror: %v\n", d.Metric, o.Err)
			continue
		}
		alert := "no"
		if d.IsAnomalous {
			alert = "YES"
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%s\t%s\t%s\n",
			d.Metric,
			d.CurrentValue,
			d.DayAgoValue,
			d.WeekAgoValue,
			formatDecimal(d.DiffDay),
			formatDecimal(d.DiffWeek),
			alert,
		)
	}
	return w.Flush()
}
