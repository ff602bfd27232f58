package data

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(date time.Time, permno, group int64, price float64) PanelRow {
	return PanelRow{
		Date:         date,
		Permno:       permno,
		GroupID:      group,
		AdjPrc:       price,
		FedFundsRate: 0.05,
		ADV20:        1e6,
		Vwretd:       0.001,
		GarchVol:     0.02,
		ZScores:      map[string]float64{"z_ou_5d_lb20": 1.5},
	}
}

func TestZColumnName(t *testing.T) {
	assert.Equal(t, "z_ou_5d_lb20", ZColumnName("ou", 5, 20))
	assert.Equal(t, "z_ar1_10d_lb60", ZColumnName("ar1", 10, 60))
}

func TestQuarterLabel(t *testing.T) {
	assert.Equal(t, "2021Q1", QuarterLabel(time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2021Q2", QuarterLabel(time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2021Q4", QuarterLabel(time.Date(2021, 12, 15, 0, 0, 0, 0, time.UTC)))
}

func TestNewPanelDropsNonFiniteRows(t *testing.T) {
	d := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bad := row(d, 2, 1, 100)
	bad.GarchVol = math.NaN()

	panel := NewPanel([]PanelRow{row(d, 1, 1, 100), bad})
	assert.Equal(t, 1, panel.Len())
	assert.Equal(t, 1, panel.Dropped())

	_, ok := panel.PriceAt(d, 2)
	assert.False(t, ok)
}

func TestNewPanelKeepsRowWithMissingZ(t *testing.T) {
	d := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	r := row(d, 1, 1, 100)
	r.ZScores = nil

	panel := NewPanel([]PanelRow{r})
	assert.Equal(t, 1, panel.Len())
	_, ok := panel.ZScoreAt("z_ou_5d_lb20", d, 1)
	assert.False(t, ok)
	assert.False(t, panel.HasZColumn("z_ou_5d_lb20"))
}

func TestPanelQuarterIndex(t *testing.T) {
	q1a := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	q1b := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	q2 := time.Date(2022, 4, 4, 0, 0, 0, 0, time.UTC)

	panel := NewPanel([]PanelRow{row(q1a, 1, 1, 100), row(q1b, 1, 1, 101), row(q2, 1, 1, 102)})

	assert.Equal(t, []string{"2022Q1", "2022Q2"}, panel.Quarters())
	assert.Equal(t, []time.Time{q1a, q1b}, panel.QuarterDates("2022Q1"))
	assert.Equal(t, []time.Time{q2}, panel.QuarterDates("2022Q2"))
	assert.Empty(t, panel.QuarterDates("2023Q1"))
}

func TestLastPriceBefore(t *testing.T) {
	d1 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2022, 1, 5, 0, 0, 0, 0, time.UTC)
	panel := NewPanel([]PanelRow{row(d1, 1, 1, 100), row(d2, 1, 1, 105)})

	p, ok := panel.LastPriceBefore(time.Date(2022, 1, 7, 0, 0, 0, 0, time.UTC), 1)
	require.True(t, ok)
	assert.Equal(t, 105.0, p)

	// Strictly before: the date itself does not count.
	p, ok = panel.LastPriceBefore(d2, 1)
	require.True(t, ok)
	assert.Equal(t, 100.0, p)

	_, ok = panel.LastPriceBefore(d1, 1)
	assert.False(t, ok)

	_, ok = panel.LastPriceBefore(d2, 99)
	assert.False(t, ok)
}

func TestFilterRows(t *testing.T) {
	d1 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []PanelRow{row(d1, 1, 1, 100), row(d2, 1, 1, 101), row(d3, 1, 1, 102)}

	out := FilterRows(rows, time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC))
	require.Len(t, out, 1)
	assert.Equal(t, d2, out[0].Date)

	// Zero bounds are open on both ends.
	assert.Len(t, FilterRows(rows, time.Time{}, time.Time{}), 3)
	assert.Len(t, FilterRows(rows, d2, time.Time{}), 2)
	assert.Len(t, FilterRows(rows, time.Time{}, d2), 2)
}

func TestFilterPairs(t *testing.T) {
	pairs := []PairCandidate{
		{PermnoBlack: 1, PermnoWhite: 2, Correlation: 0.9, CointPValue: 0.01},
		{PermnoBlack: 3, PermnoWhite: 4, Correlation: 0.4, CointPValue: 0.01},
		{PermnoBlack: 5, PermnoWhite: 6, Correlation: 0.9, CointPValue: 0.30},
		{PermnoBlack: 7, PermnoWhite: 8, Correlation: math.NaN(), CointPValue: 0.01},
	}
	corr := 0.8
	coint := 0.05

	out := FilterPairs(pairs, &corr, &coint)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].PermnoBlack)

	// Nil thresholds disable the screens.
	assert.Len(t, FilterPairs(pairs, nil, nil), 4)

	// All-NaN statistics mean the column is absent, so its screen is skipped.
	noStats := []PairCandidate{
		{PermnoBlack: 1, PermnoWhite: 2, Correlation: math.NaN(), CointPValue: math.NaN()},
		{PermnoBlack: 3, PermnoWhite: 4, Correlation: math.NaN(), CointPValue: math.NaN()},
	}
	assert.Len(t, FilterPairs(noStats, &corr, &coint), 2)
}
