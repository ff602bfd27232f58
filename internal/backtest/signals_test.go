package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statarb/pairback/internal/data"
)

const testZColumn = "z_ou_5d_lb20"

func testConfig() Config {
	return Config{
		InitialCapital:  1_100_000,
		ZScoreMethod:    "ou",
		ZScoreThreshold: 2.0,
		LookbackPeriod:  20,
		Horizon:         5,
		MaxHoldingDays:  10,
	}
}

func panelRow(date time.Time, permno, group int64, price, z float64) data.PanelRow {
	row := data.PanelRow{
		Date:         date,
		Permno:       permno,
		GroupID:      group,
		AdjPrc:       price,
		FedFundsRate: 0.05,
		ADV20:        5_000_000,
		Vwretd:       0.001,
		GarchVol:     0.02,
		ZScores:      map[string]float64{},
	}
	if !math.IsNaN(z) {
		row.ZScores[testZColumn] = z
	}
	return row
}

func TestNewSignalGeneratorMissingColumn(t *testing.T) {
	day := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	panel := data.NewPanel([]data.PanelRow{panelRow(day, 10001, 1, 100, 1.0)})

	cfg := testConfig()
	cfg.ZScoreMethod = "ar1"

	_, err := NewSignalGenerator(panel, nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "z_ar1_5d_lb20")
	assert.Contains(t, err.Error(), testZColumn)
}

func TestPrecomputeClassifiesBothSides(t *testing.T) {
	d1 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2022, 1, 4, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2022, 1, 5, 0, 0, 0, 0, time.UTC)

	rows := []data.PanelRow{
		// d1: spread +2.1, short black / long white.
		panelRow(d1, 10001, 1, 100, 1.6),
		panelRow(d1, 10002, 1, 50, -0.5),
		// d2: spread -2.1, long black / short white.
		panelRow(d2, 10001, 1, 100, -1.1),
		panelRow(d2, 10002, 1, 50, 1.0),
		// d3: spread +1.9, below threshold.
		panelRow(d3, 10001, 1, 100, 1.4),
		panelRow(d3, 10002, 1, 50, -0.5),
	}
	pairs := []data.PairCandidate{{PermnoBlack: 10001, PermnoWhite: 10002, GroupID: 1}}

	gen, err := NewSignalGenerator(data.NewPanel(rows), pairs, testConfig())
	require.NoError(t, err)
	require.NoError(t, gen.Precompute(context.Background()))

	assert.Equal(t, 2, gen.Total())

	sigs := gen.SignalsFor(d1)
	require.Len(t, sigs, 1)
	assert.Equal(t, SideShortBlackLongWhite, sigs[0].Side)
	assert.InDelta(t, 2.1, sigs[0].ZDiff, 1e-9)
	assert.Equal(t, int64(1), sigs[0].GroupID)

	sigs = gen.SignalsFor(d2)
	require.Len(t, sigs, 1)
	assert.Equal(t, SideLongBlackShortWhite, sigs[0].Side)

	assert.Empty(t, gen.SignalsFor(d3))
}

func TestPrecomputeSkipsMissingZ(t *testing.T) {
	d1 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	rows := []data.PanelRow{
		panelRow(d1, 10001, 1, 100, 3.0),
		panelRow(d1, 10002, 1, 50, math.NaN()),
	}
	pairs := []data.PairCandidate{{PermnoBlack: 10001, PermnoWhite: 10002, GroupID: 1}}

	gen, err := NewSignalGenerator(data.NewPanel(rows), pairs, testConfig())
	require.NoError(t, err)
	require.NoError(t, gen.Precompute(context.Background()))
	assert.Zero(t, gen.Total())

	_, ok := gen.ZDiff(d1, 10001, 10002)
	assert.False(t, ok)
}

func TestPrecomputeOrderIsDeterministic(t *testing.T) {
	d1 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	rows := []data.PanelRow{
		panelRow(d1, 10001, 1, 100, 2.5),
		panelRow(d1, 10002, 1, 50, 0),
		panelRow(d1, 20001, 2, 80, 2.5),
		panelRow(d1, 20002, 2, 40, 0),
		panelRow(d1, 30001, 3, 60, 2.5),
		panelRow(d1, 30002, 3, 30, 0),
	}
	pairs := []data.PairCandidate{
		{PermnoBlack: 10001, PermnoWhite: 10002, GroupID: 1},
		{PermnoBlack: 20001, PermnoWhite: 20002, GroupID: 2},
		{PermnoBlack: 30001, PermnoWhite: 30002, GroupID: 3},
	}

	var first []int64
	for run := 0; run < 5; run++ {
		cfg := testConfig()
		cfg.SignalWorkers = 3
		gen, err := NewSignalGenerator(data.NewPanel(rows), pairs, cfg)
		require.NoError(t, err)
		require.NoError(t, gen.Precompute(context.Background()))

		var order []int64
		for _, sig := range gen.SignalsFor(d1) {
			order = append(order, sig.PermnoBlack)
		}
		if run == 0 {
			first = order
			continue
		}
		assert.Equal(t, first, order)
	}
	assert.Equal(t, []int64{10001, 20001, 30001}, first)
}
