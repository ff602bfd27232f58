package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/statarb/pairback/internal/gridsearch"
)

// resultsRepo persists grid-search rows to PostgreSQL, keyed by config
// hash so re-running a sweep updates rather than duplicates.
type resultsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewResultsRepo wraps an existing connection as a results store.
func NewResultsRepo(db *sqlx.DB, timeout time.Duration) gridsearch.ResultsStore {
	return &resultsRepo{db: db, timeout: timeout}
}

// Connect opens a PostgreSQL connection and verifies it.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// EnsureSchema creates the results table when absent.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS grid_results (
			config_hash      TEXT PRIMARY KEY,
			config           JSONB NOT NULL,
			total_trades     INTEGER NOT NULL,
			hit_rate         DOUBLE PRECISION NOT NULL,
			total_net_pnl    DOUBLE PRECISION NOT NULL,
			total_return     DOUBLE PRECISION NOT NULL,
			sharpe_ratio     DOUBLE PRECISION NOT NULL,
			sortino_ratio    DOUBLE PRECISION NOT NULL,
			alpha            DOUBLE PRECISION NOT NULL,
			beta             DOUBLE PRECISION NOT NULL,
			max_drawdown     DOUBLE PRECISION NOT NULL,
			error_message    TEXT NOT NULL DEFAULT '',
			completed_at     TIMESTAMPTZ NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create grid_results table: %w", err)
	}
	return nil
}

// Upsert writes one sweep row, replacing any previous run of the same
// configuration.
func (r *resultsRepo) Upsert(ctx context.Context, row gridsearch.Row) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	configJSON, err := json.Marshal(row.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO grid_results (
			config_hash, config, total_trades, hit_rate, total_net_pnl,
			total_return, sharpe_ratio, sortino_ratio, alpha, beta,
			max_drawdown, error_message, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (config_hash) DO UPDATE SET
			config = EXCLUDED.config,
			total_trades = EXCLUDED.total_trades,
			hit_rate = EXCLUDED.hit_rate,
			total_net_pnl = EXCLUDED.total_net_pnl,
			total_return = EXCLUDED.total_return,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			sortino_ratio = EXCLUDED.sortino_ratio,
			alpha = EXCLUDED.alpha,
			beta = EXCLUDED.beta,
			max_drawdown = EXCLUDED.max_drawdown,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at`

	_, err = r.db.ExecContext(ctx, query,
		row.ConfigHash, configJSON,
		row.Metrics.TotalTrades, row.Metrics.HitRate, row.Metrics.TotalNetPnL,
		row.Metrics.TotalReturn, row.Metrics.SharpeRatio, row.Metrics.SortinoRatio,
		row.Metrics.Alpha, row.Metrics.Beta, row.Metrics.MaxDrawdown,
		row.Error, row.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert grid result %s: %w", row.ConfigHash, err)
	}
	return nil
}
