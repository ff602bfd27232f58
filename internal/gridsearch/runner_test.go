package gridsearch

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statarb/pairback/internal/backtest"
	"github.com/statarb/pairback/internal/data"
)

func sweepGrid() Grid {
	return Grid{
		InitialCapital:   1_100_000,
		ZScoreMethods:    []string{"ou"},
		ZScoreThresholds: []float64{2.0, 2.5},
		LookbackPeriods:  []int{20},
		Horizons:         []int{5},
		MaxHoldingDays:   []int{10, 20},
	}
}

func sweepPanel() (*data.Panel, []data.PairCandidate) {
	d1 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2022, 1, 4, 0, 0, 0, 0, time.UTC)
	rows := []data.PanelRow{
		{Date: d1, Permno: 10001, GroupID: 1, AdjPrc: 100, FedFundsRate: 0.05, ADV20: 5e6, Vwretd: 0.001, GarchVol: 0.02,
			ZScores: map[string]float64{"z_ou_5d_lb20": 2.6}},
		{Date: d1, Permno: 10002, GroupID: 1, AdjPrc: 50, FedFundsRate: 0.05, ADV20: 5e6, Vwretd: 0.001, GarchVol: 0.02,
			ZScores: map[string]float64{"z_ou_5d_lb20": 0}},
		{Date: d2, Permno: 10001, GroupID: 1, AdjPrc: 98, FedFundsRate: 0.05, ADV20: 5e6, Vwretd: 0.001, GarchVol: 0.02,
			ZScores: map[string]float64{"z_ou_5d_lb20": -0.2}},
		{Date: d2, Permno: 10002, GroupID: 1, AdjPrc: 51, FedFundsRate: 0.05, ADV20: 5e6, Vwretd: 0.001, GarchVol: 0.02,
			ZScores: map[string]float64{"z_ou_5d_lb20": 0}},
	}
	pairs := []data.PairCandidate{{PermnoBlack: 10001, PermnoWhite: 10002, GroupID: 1}}
	return data.NewPanel(rows), pairs
}

func TestGridCombinations(t *testing.T) {
	grid := sweepGrid()
	combos := grid.Combinations()
	require.Len(t, combos, 4)

	// Stable order: thresholds outer, holding days inner.
	assert.Equal(t, 2.0, combos[0].ZScoreThreshold)
	assert.Equal(t, 10, combos[0].MaxHoldingDays)
	assert.Equal(t, 20, combos[1].MaxHoldingDays)
	assert.Equal(t, 2.5, combos[2].ZScoreThreshold)
	for _, cfg := range combos {
		assert.Equal(t, 1_100_000.0, cfg.InitialCapital)
	}
}

func TestGridValidate(t *testing.T) {
	grid := sweepGrid()
	grid.Horizons = nil
	err := grid.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "horizons")
}

func TestConfigHashIdentity(t *testing.T) {
	a := backtest.Config{InitialCapital: 1e6, ZScoreMethod: "ou", ZScoreThreshold: 2, LookbackPeriod: 20, Horizon: 5, MaxHoldingDays: 10}
	b := a
	assert.Equal(t, ConfigHash(a), ConfigHash(b))

	b.ZScoreThreshold = 2.5
	assert.NotEqual(t, ConfigHash(a), ConfigHash(b))

	// Execution tuning must not change the identity.
	c := a
	c.SignalWorkers = 16
	c.QuarterBatchSize = 8
	assert.Equal(t, ConfigHash(a), ConfigHash(c))
}

func TestRunnerSweepAndResume(t *testing.T) {
	panel, pairs := sweepPanel()
	outDir := t.TempDir()

	runner, err := NewRunner(sweepGrid(), panel, pairs, outDir, nil)
	require.NoError(t, err)

	rows, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, row := range rows {
		assert.Empty(t, row.Error)
		assert.NotEmpty(t, row.ConfigHash)
	}

	file, err := os.Open(filepath.Join(outDir, "results.csv"))
	require.NoError(t, err)
	records, err := csv.NewReader(file).ReadAll()
	file.Close()
	require.NoError(t, err)
	assert.Len(t, records, 5) // header plus four rows
	assert.Equal(t, resultsHeader, records[0])

	// A second run resumes from the checkpoint and adds nothing.
	runner2, err := NewRunner(sweepGrid(), panel, pairs, outDir, nil)
	require.NoError(t, err)
	rows2, err := runner2.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows2, 4)
}

func TestRunnerRecordsFailedCombination(t *testing.T) {
	panel, pairs := sweepPanel()

	grid := sweepGrid()
	// No such z column exists in the panel.
	grid.ZScoreMethods = []string{"ar1"}
	grid.ZScoreThresholds = []float64{2.0}
	grid.MaxHoldingDays = []int{10}

	runner, err := NewRunner(grid, panel, pairs, t.TempDir(), nil)
	require.NoError(t, err)

	rows, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Error, "z_ar1_5d_lb20")
	assert.Equal(t, backtest.Metrics{}, rows[0].Metrics)
}

func TestRunnerCanceledContext(t *testing.T) {
	panel, pairs := sweepPanel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner, err := NewRunner(sweepGrid(), panel, pairs, t.TempDir(), nil)
	require.NoError(t, err)

	_, err = runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
