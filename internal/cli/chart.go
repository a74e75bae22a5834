package cli

import (
	"github.com/spf13/cobra"

	"metric-alerts/internal/app"
)

var (
	chartAsOf   string
	chartMetric string
	chartOut    string
	chartASCII  bool
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render one metric over the current window as PNG or terminal plot",
	RunE: func(cmd *cobra.Command, args []string) error {
		asOf, err := parseAsOf(chartAsOf)
		if err != nil {
			return err
		}
		return getApp().Chart(cmd.Context(), app.ChartOptions{
			AsOf:    asOf,
			Metric:  chartMetric,
			PNGPath: chartOut,
			ASCII:   chartASCII,
		}, cmd.OutOrStdout())
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartAsOf, "as-of", "", "Render as of this RFC3339 instant instead of now")
	chartCmd.Flags().StringVar(&chartMetric, "metric", "", "Metric to plot")
	chartCmd.Flags().StringVar(&chartOut, "out", "", "PNG output path")
	chartCmd.Flags().BoolVar(&chartASCII, "ascii", false, "Print a terminal plot instead of writing a PNG")
}
