package cli

import (
	"github.com/spf13/cobra"
)

var checkAsOf string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Print the decision for every metric without sending alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		asOf, err := parseAsOf(checkAsOf)
		if err != nil {
			return err
		}
		return getApp().Check(cmd.Context(), asOf, cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkAsOf, "as-of", "", "Evaluate as of this RFC3339 instant instead of now")
}
