package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lava-reports/internal/app"
)

var (
	blocksDays int

	intervalMonths int
	intervalDays   []int
	intervalSupply bool

	supplyDays    int
	supplyArchive bool
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Locate the first block after each UTC midnight of the last days",
	RunE: func(cmd *cobra.Command, args []string) error {
		if blocksDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		return getApp().Blocks(cmd.Context(), blocksDays)
	},
}

var intervalCmd = &cobra.Command{
	Use:   "interval",
	Short: "Locate blocks on fixed days of each past month",
	RunE: func(cmd *cobra.Command, args []string) error {
		if intervalMonths <= 0 {
			return fmt.Errorf("--months must be greater than zero")
		}
		for _, d := range intervalDays {
			if d < 1 || d > 28 {
				return fmt.Errorf("--day %d out of range 1..28", d)
			}
		}
		return getApp().Interval(cmd.Context(), app.IntervalOptions{
			Months: intervalMonths,
			Days:   intervalDays,
			Supply: intervalSupply,
		})
	},
}

var supplyCmd = &cobra.Command{
	Use:   "supply",
	Short: "Report daily ulava supply and burn rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		if supplyDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		return getApp().Supply(cmd.Context(), app.SupplyOptions{Days: supplyDays, Archive: supplyArchive})
	},
}

func init() {
	blocksCmd.Flags().IntVar(&blocksDays, "days", 30, "Number of past days to locate")

	intervalCmd.Flags().IntVar(&intervalMonths, "months", 12, "Number of past months")
	intervalCmd.Flags().IntSliceVar(&intervalDays, "day", []int{17, 18}, "Days of month to locate (repeatable)")
	intervalCmd.Flags().BoolVar(&intervalSupply, "supply", false, "Also fetch ulava supply at each block")

	supplyCmd.Flags().IntVar(&supplyDays, "days", 30, "Number of past days to report")
	supplyCmd.Flags().BoolVar(&supplyArchive, "archive", false, "Upsert the report into the configured database")
}
