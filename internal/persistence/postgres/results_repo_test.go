package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statarb/pairback/internal/backtest"
	"github.com/statarb/pairback/internal/gridsearch"
)

func mockRepo(t *testing.T) (gridsearch.ResultsStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewResultsRepo(sqlx.NewDb(db, "postgres"), 5*time.Second), mock
}

func sweepRow() gridsearch.Row {
	return gridsearch.Row{
		ConfigHash: "deadbeef",
		Config: backtest.Config{
			InitialCapital:  1_000_000,
			ZScoreMethod:    "ou",
			ZScoreThreshold: 2.0,
			LookbackPeriod:  20,
			Horizon:         5,
			MaxHoldingDays:  10,
		},
		Metrics: backtest.Metrics{
			TotalTrades: 12,
			HitRate:     0.58,
			TotalNetPnL: 42_000,
			SharpeRatio: 1.2,
		},
		CompletedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpsertInsertsRow(t *testing.T) {
	repo, mock := mockRepo(t)
	row := sweepRow()

	mock.ExpectExec("INSERT INTO grid_results").
		WithArgs(row.ConfigHash, sqlmock.AnyArg(),
			row.Metrics.TotalTrades, row.Metrics.HitRate, row.Metrics.TotalNetPnL,
			row.Metrics.TotalReturn, row.Metrics.SharpeRatio, row.Metrics.SortinoRatio,
			row.Metrics.Alpha, row.Metrics.Beta, row.Metrics.MaxDrawdown,
			row.Error, row.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPropagatesDBError(t *testing.T) {
	repo, mock := mockRepo(t)

	mock.ExpectExec("INSERT INTO grid_results").
		WillReturnError(errors.New("connection reset"))

	err := repo.Upsert(context.Background(), sweepRow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadbeef")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS grid_results").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), sqlx.NewDb(db, "postgres")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
