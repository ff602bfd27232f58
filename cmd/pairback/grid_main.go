package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statarb/pairback/internal/gridsearch"
	"github.com/statarb/pairback/internal/persistence/postgres"
)

// runGrid executes the hyperparameter sweep defined in the configuration.
func runGrid(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, panel, pairs, err := loadInputs(cmd)
	if err != nil {
		return err
	}
	if cfg.Grid == nil {
		return fmt.Errorf("config has no grid section")
	}

	if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
		checkpointPath := filepath.Join(cfg.Output.Dir, "checkpoint.json")
		if err := os.Remove(checkpointPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove checkpoint: %w", err)
		}
		log.Info().Str("path", checkpointPath).Msg("Checkpoint cleared, starting fresh")
	}

	var store gridsearch.ResultsStore
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
		store = postgres.NewResultsRepo(db, 10*time.Second)
		log.Info().Msg("Result persistence enabled")
	}

	runner, err := gridsearch.NewRunner(*cfg.Grid, panel, pairs, cfg.Output.Dir, store)
	if err != nil {
		return err
	}

	rows, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	best := bestRow(rows)
	if best != nil {
		log.Info().Str("config_hash", best.ConfigHash[:12]).
			Str("method", best.Config.ZScoreMethod).
			Float64("threshold", best.Config.ZScoreThreshold).
			Float64("sharpe", best.Metrics.SharpeRatio).
			Float64("net_pnl", best.Metrics.TotalNetPnL).
			Msg("Best combination by Sharpe")
	}
	log.Info().Int("combinations", len(rows)).Str("dir", cfg.Output.Dir).
		Msg("Grid sweep finished")
	return nil
}

// bestRow picks the successful row with the highest Sharpe ratio.
func bestRow(rows []gridsearch.Row) *gridsearch.Row {
	var best *gridsearch.Row
	for i := range rows {
		row := &rows[i]
		if row.Error != "" {
			continue
		}
		if best == nil || row.Metrics.SharpeRatio > best.Metrics.SharpeRatio {
			best = row
		}
	}
	return best
}
