package gridsearch

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/statarb/pairback/internal/backtest"
	"github.com/statarb/pairback/internal/data"
)

// ResultsStore persists sweep rows to external storage. Persistence is best
// effort; a store failure is logged but never stops the sweep.
type ResultsStore interface {
	Upsert(ctx context.Context, row Row) error
}

// Runner executes a hyperparameter sweep over one panel. Progress is
// checkpointed after every combination so an interrupted sweep resumes
// where it stopped.
type Runner struct {
	grid   Grid
	panel  *data.Panel
	pairs  []data.PairCandidate
	outDir string
	store  ResultsStore
}

// NewRunner validates the grid and prepares a sweep writing into outDir.
// store may be nil.
func NewRunner(grid Grid, panel *data.Panel, pairs []data.PairCandidate, outDir string, store ResultsStore) (*Runner, error) {
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	if outDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	return &Runner{grid: grid, panel: panel, pairs: pairs, outDir: outDir, store: store}, nil
}

// Run sweeps every grid combination not already checkpointed. The results
// CSV and checkpoint are rewritten after each combination; a failing
// combination is recorded with zero metrics and its error.
func (r *Runner) Run(ctx context.Context) ([]Row, error) {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	checkpointPath := filepath.Join(r.outDir, "checkpoint.json")
	cp, err := loadCheckpoint(checkpointPath)
	if err != nil {
		return nil, err
	}
	done := cp.completed()

	combos := r.grid.Combinations()
	log.Info().Int("combinations", len(combos)).Int("resumed", len(cp.Rows)).
		Str("dir", r.outDir).Msg("Grid sweep starting")

	for i, cfg := range combos {
		if err := ctx.Err(); err != nil {
			return cp.Rows, err
		}
		hash := ConfigHash(cfg)
		if done[hash] {
			continue
		}

		row := r.runOne(ctx, cfg, hash)
		cp.Rows = append(cp.Rows, row)
		done[hash] = true

		if err := cp.save(checkpointPath); err != nil {
			return cp.Rows, err
		}
		if err := r.writeResultsCSV(cp.Rows); err != nil {
			return cp.Rows, err
		}
		if r.store != nil {
			if err := r.store.Upsert(ctx, row); err != nil {
				log.Warn().Err(err).Str("config_hash", hash).Msg("Result store upsert failed")
			}
		}

		log.Info().Int("done", i+1).Int("total", len(combos)).
			Str("config_hash", hash[:12]).
			Float64("net_pnl", row.Metrics.TotalNetPnL).
			Msg("Combination finished")
	}

	return cp.Rows, nil
}

// runOne executes a single combination, containing any engine failure in
// the row's error field.
func (r *Runner) runOne(ctx context.Context, cfg backtest.Config, hash string) Row {
	row := Row{ConfigHash: hash, Config: cfg, CompletedAt: time.Now().UTC()}

	engine, err := backtest.NewEngine(r.panel, r.pairs, cfg)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	result, err := engine.Run(ctx)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Metrics = result.Metrics
	row.CompletedAt = time.Now().UTC()
	return row
}

var resultsHeader = []string{
	"config_hash", "zscore_method", "zscore_threshold", "lookback_period",
	"horizon", "max_holding_days", "total_trades", "hit_rate", "total_net_pnl",
	"total_return", "sharpe_ratio", "sortino_ratio", "alpha", "beta",
	"max_drawdown", "error",
}

// writeResultsCSV rewrites the cumulative sweep table.
func (r *Runner) writeResultsCSV(rows []Row) error {
	path := filepath.Join(r.outDir, "results.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write(resultsHeader); err != nil {
		return fmt.Errorf("failed to write results header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ConfigHash,
			row.Config.ZScoreMethod,
			strconv.FormatFloat(row.Config.ZScoreThreshold, 'f', -1, 64),
			strconv.Itoa(row.Config.LookbackPeriod),
			strconv.Itoa(row.Config.Horizon),
			strconv.Itoa(row.Config.MaxHoldingDays),
			strconv.Itoa(row.Metrics.TotalTrades),
			strconv.FormatFloat(row.Metrics.HitRate, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.TotalNetPnL, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.TotalReturn, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.SharpeRatio, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.SortinoRatio, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.Alpha, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.Beta, 'f', -1, 64),
			strconv.FormatFloat(row.Metrics.MaxDrawdown, 'f', -1, 64),
			row.Error,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write results row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
