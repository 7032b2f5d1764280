package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lava-reports/internal/app"
	"lava-reports/internal/config"
	"lava-reports/internal/logging"
)

var (
	cfgFile     string
	logLevel    string
	concurrency int
	appHandle   *app.App
)

var rootCmd = &cobra.Command{
	Use:           "lavareport",
	Short:         "Generate Lava network block, supply and rewards reports",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		cfg.Workers.Concurrency = cfg.ResolveConcurrency(concurrency)

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Override workers.concurrency")

	rootCmd.AddCommand(blocksCmd)
	rootCmd.AddCommand(intervalCmd)
	rootCmd.AddCommand(supplyCmd)
	rootCmd.AddCommand(rewardsCmd)
	rootCmd.AddCommand(valueCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
