package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statarb/pairback/internal/backtest"
	"github.com/statarb/pairback/internal/config"
	"github.com/statarb/pairback/internal/data"
	"github.com/statarb/pairback/internal/telemetry"
)

// runBacktest executes a single configuration and writes its artifacts.
func runBacktest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, panel, pairs, err := loadInputs(cmd)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(panel, pairs, cfg.Backtest)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	runDir, err := backtest.NewWriter(cfg.Output.Dir).Write(result)
	if err != nil {
		return err
	}

	log.Info().Str("dir", runDir).
		Int("trades", result.Metrics.TotalTrades).
		Float64("net_pnl", result.Metrics.TotalNetPnL).
		Float64("sharpe", result.Metrics.SharpeRatio).
		Msg("Backtest finished")
	return nil
}

// loadInputs reads the YAML configuration, applies CLI overrides, loads the
// panel and pairs files, and builds the cleaned panel snapshot.
func loadInputs(cmd *cobra.Command) (*config.App, *data.Panel, []data.PairCandidate, error) {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if period, _ := cmd.Flags().GetString("period"); period != "" {
		cfg.Period = period
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Output.Dir = output
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = cfg.Monitor.Addr
	}
	if addr != "" {
		telemetry.Serve(addr)
	}

	rows, err := data.LoadPanelCSV(cfg.Paths.PanelCSV)
	if err != nil {
		return nil, nil, nil, err
	}
	pairs, err := data.LoadPairsCSV(cfg.Paths.PairsCSV)
	if err != nil {
		return nil, nil, nil, err
	}

	start, end, err := cfg.PeriodBounds()
	if err != nil {
		return nil, nil, nil, err
	}
	rows = data.FilterRows(rows, start, end)
	if len(rows) == 0 {
		return nil, nil, nil, fmt.Errorf("no panel rows in period %q", cfg.Period)
	}

	panel := data.NewPanel(rows)
	log.Info().Int("rows", panel.Len()).Int("dropped", panel.Dropped()).
		Int("pairs", len(pairs)).Int("quarters", len(panel.Quarters())).
		Strs("z_columns", panel.ZColumns()).
		Msg("Inputs loaded")
	return cfg, panel, pairs, nil
}

// signalContext cancels on SIGINT or SIGTERM so sweeps checkpoint cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
