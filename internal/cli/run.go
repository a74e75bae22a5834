package cli

import (
	"github.com/spf13/cobra"

	"metric-alerts/internal/app"
)

var (
	runAsOf   string
	runChat   string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one extract, compare and notify pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		asOf, err := parseAsOf(runAsOf)
		if err != nil {
			return err
		}
		return getApp().Run(cmd.Context(), app.RunOptions{
			AsOf:   asOf,
			Chat:   runChat,
			DryRun: runDryRun,
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a pass on every grid interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runAsOf, "as-of", "", "Evaluate as of this RFC3339 instant instead of now")
	runCmd.Flags().StringVar(&runChat, "chat", "", "Override the configured alert destination")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate without rendering or sending alerts")
}
