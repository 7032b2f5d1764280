package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lava-reports/internal/app"
)

var (
	showLimit      int
	showReportPath string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent supply points",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit, ReportPath: showReportPath})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of points to display")
	showCmd.Flags().StringVar(&showReportPath, "report", "", "Read a daily_burn_rate report file instead of the database")
}
