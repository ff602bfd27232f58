package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	appName = "pairback"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Statistical arbitrage pairs-trading backtester",
		Version: version,
		Long: `pairback simulates z-score driven pairs trading over a cleaned CRSP-style
panel: signal generation, daily portfolio management with financing and
liquidity constraints, quarter-parallel execution, and performance metrics.

Run 'pairback run' for a single configuration or 'pairback grid' for a
hyperparameter sweep with checkpointed resume.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest",
		Long:  "Run one backtest from a YAML configuration and write the trade log, daily returns, metrics, and report",
		RunE:  runBacktest,
	}
	addCommonFlags(runCmd.Flags())

	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "Run a hyperparameter grid sweep",
		Long:  "Sweep every grid combination from the YAML configuration, checkpointing after each one so interrupted sweeps resume",
		RunE:  runGrid,
	}
	addCommonFlags(gridCmd.Flags())
	gridCmd.Flags().Bool("fresh", false, "Ignore an existing checkpoint and restart the sweep")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gridCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// addCommonFlags registers the flags shared by run and grid.
func addCommonFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "config/backtest.yaml", "Path to YAML configuration")
	flags.String("period", "", "Named evaluation period (train|test), overriding the config")
	flags.String("output", "", "Output directory, overriding the config")
	flags.String("metrics-addr", "", "Serve /health and /metrics on this address during the run")
	flags.Bool("debug", false, "Enable debug logging")
}
