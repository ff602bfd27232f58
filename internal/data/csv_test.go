package data

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPanelCSV(t *testing.T) {
	path := writeFile(t, "panel.csv", `date,permno,group_id,adj_prc,fed_funds_rate,adv20,vwretd,garch_vol,z_ou_5d_lb20
2022-01-03,10001,1,100.5,0.05,5000000,0.001,0.02,1.25
2022-01-03,10002,1,50.25,0.05,3000000,0.001,0.018,-0.75
2022-01-04,10001,1,101.0,0.05,5100000,-0.002,0.021,
bogus,10001,1,101.0,0.05,5100000,-0.002,0.021,0.5
`)

	rows, err := LoadPanelCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 3) // the bogus-date row is skipped

	first := rows[0]
	assert.Equal(t, time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, int64(10001), first.Permno)
	assert.Equal(t, 100.5, first.AdjPrc)
	assert.Equal(t, 1.25, first.ZScores["z_ou_5d_lb20"])

	// Empty z cell drops the entry, not the row.
	_, ok := rows[2].ZScores["z_ou_5d_lb20"]
	assert.False(t, ok)
}

func TestLoadPanelCSVColumnAliases(t *testing.T) {
	path := writeFile(t, "panel.csv", `DATE,PERMNO,group,price,ffr,dollar_vol_20d,mkt_ret,garch,z_ou_5d_lb20
2022-01-03,10001,1,100.5,0.05,5000000,0.001,0.02,1.25
`)

	rows, err := LoadPanelCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 100.5, rows[0].AdjPrc)
	assert.Equal(t, 0.05, rows[0].FedFundsRate)
	assert.Equal(t, 0.02, rows[0].GarchVol)
}

func TestLoadPanelCSVMissingRequiredColumn(t *testing.T) {
	path := writeFile(t, "panel.csv", `date,permno,group_id,adj_prc,fed_funds_rate,adv20,vwretd
2022-01-03,10001,1,100.5,0.05,5000000,0.001
`)
	_, err := LoadPanelCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "garch_vol")
}

func TestLoadPanelCSVRequiresZColumns(t *testing.T) {
	path := writeFile(t, "panel.csv", `date,permno,group_id,adj_prc,fed_funds_rate,adv20,vwretd,garch_vol
2022-01-03,10001,1,100.5,0.05,5000000,0.001,0.02
`)
	_, err := LoadPanelCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no z-score columns")
}

func TestLoadPairsCSV(t *testing.T) {
	path := writeFile(t, "pairs.csv", `permno_black,permno_white,group_id,corr,coint_pval
10001,10002,1,0.92,0.013
10003,10004,2,,
notanint,10006,3,0.5,0.5
`)

	pairs, err := LoadPairsCSV(path)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, int64(10001), pairs[0].PermnoBlack)
	assert.Equal(t, 0.92, pairs[0].Correlation)
	assert.True(t, math.IsNaN(pairs[1].Correlation))
	assert.True(t, math.IsNaN(pairs[1].CointPValue))
}

func TestLoadPairsCSVAliases(t *testing.T) {
	path := writeFile(t, "pairs.csv", `permno_1,permno_2,gid,correlation,pval
10001,10002,1,0.92,0.013
`)
	pairs, err := LoadPairsCSV(path)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(10002), pairs[0].PermnoWhite)
	assert.Equal(t, 0.013, pairs[0].CointPValue)
}

func TestLoadPairsCSVMissingColumn(t *testing.T) {
	path := writeFile(t, "pairs.csv", `permno_black,group_id
10001,1
`)
	_, err := LoadPairsCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permno_white")
}

func TestLoadPanelCSVMissingFile(t *testing.T) {
	_, err := LoadPanelCSV(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
