package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Required panel columns after normalization. Z-score columns are picked up
// by their z_ prefix and are not required individually.
var requiredPanelColumns = []string{
	"date", "permno", "group_id", "adj_prc", "fed_funds_rate", "adv20", "vwretd", "garch_vol",
}

var panelDateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
}

// LoadPanelCSV reads the cleaned panel file. Rows that fail to parse are
// skipped and counted; missing required columns abort the load.
func LoadPanelCSV(path string) ([]PanelRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open panel file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read panel header: %w", err)
	}

	columns := mapColumns(header)
	for _, col := range requiredPanelColumns {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("panel file missing required column %q", col)
		}
	}

	var zColumns []string
	for col := range columns {
		if strings.HasPrefix(col, "z_") {
			zColumns = append(zColumns, col)
		}
	}
	if len(zColumns) == 0 {
		return nil, fmt.Errorf("panel file has no z-score columns (expected z_{method}_{horizon}d_lb{lookback})")
	}

	var rows []PanelRow
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read panel row: %w", err)
		}

		row, err := parsePanelRecord(record, columns, zColumns)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Int("loaded", len(rows)).
			Str("path", path).Msg("Skipped malformed panel rows")
	}
	return rows, nil
}

// LoadPairsCSV reads the pre-screened pairs table. Correlation and
// cointegration statistics are optional; absent columns yield NaN.
func LoadPairsCSV(path string) ([]PairCandidate, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pairs file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read pairs header: %w", err)
	}

	columns := mapColumns(header)
	for _, col := range []string{"permno_black", "permno_white", "group_id"} {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("pairs file missing required column %q", col)
		}
	}

	var pairs []PairCandidate
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read pairs row: %w", err)
		}

		pair, err := parsePairRecord(record, columns)
		if err != nil {
			skipped++
			continue
		}
		pairs = append(pairs, pair)
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Int("loaded", len(pairs)).
			Str("path", path).Msg("Skipped malformed pair rows")
	}
	return pairs, nil
}

// mapColumns builds a normalized column name -> index map from a header.
func mapColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, raw := range header {
		columns[normalizeColumnName(raw)] = i
	}
	return columns
}

// normalizeColumnName folds common upstream variations onto the canonical
// names the core expects.
func normalizeColumnName(column string) string {
	normalized := strings.ToLower(strings.TrimSpace(column))
	switch normalized {
	case "permno_1", "permno_b", "black":
		return "permno_black"
	case "permno_2", "permno_w", "white":
		return "permno_white"
	case "group", "gid":
		return "group_id"
	case "prc", "price", "adjprc":
		return "adj_prc"
	case "ffr", "fedfunds", "rf":
		return "fed_funds_rate"
	case "dollar_vol_20d", "avg_dollar_volume":
		return "adv20"
	case "mkt_ret", "market_return":
		return "vwretd"
	case "vol_garch", "garch":
		return "garch_vol"
	case "correlation":
		return "corr"
	case "pval", "p_value":
		return "coint_pval"
	default:
		return normalized
	}
}

func parsePanelRecord(record []string, columns map[string]int, zColumns []string) (PanelRow, error) {
	date, err := parseDate(field(record, columns, "date"))
	if err != nil {
		return PanelRow{}, err
	}
	permno, err := strconv.ParseInt(field(record, columns, "permno"), 10, 64)
	if err != nil {
		return PanelRow{}, fmt.Errorf("bad permno: %w", err)
	}
	groupID, err := strconv.ParseInt(field(record, columns, "group_id"), 10, 64)
	if err != nil {
		return PanelRow{}, fmt.Errorf("bad group_id: %w", err)
	}

	row := PanelRow{
		Date:         date,
		Permno:       permno,
		GroupID:      groupID,
		AdjPrc:       parseFloat(field(record, columns, "adj_prc")),
		FedFundsRate: parseFloat(field(record, columns, "fed_funds_rate")),
		ADV20:        parseFloat(field(record, columns, "adv20")),
		Vwretd:       parseFloat(field(record, columns, "vwretd")),
		GarchVol:     parseFloat(field(record, columns, "garch_vol")),
		ZScores:      make(map[string]float64, len(zColumns)),
	}
	for _, col := range zColumns {
		if z := parseFloat(field(record, columns, col)); !math.IsNaN(z) {
			row.ZScores[col] = z
		}
	}
	return row, nil
}

func parsePairRecord(record []string, columns map[string]int) (PairCandidate, error) {
	black, err := strconv.ParseInt(field(record, columns, "permno_black"), 10, 64)
	if err != nil {
		return PairCandidate{}, fmt.Errorf("bad permno_black: %w", err)
	}
	white, err := strconv.ParseInt(field(record, columns, "permno_white"), 10, 64)
	if err != nil {
		return PairCandidate{}, fmt.Errorf("bad permno_white: %w", err)
	}
	groupID, err := strconv.ParseInt(field(record, columns, "group_id"), 10, 64)
	if err != nil {
		return PairCandidate{}, fmt.Errorf("bad group_id: %w", err)
	}

	return PairCandidate{
		PermnoBlack: black,
		PermnoWhite: white,
		GroupID:     groupID,
		Correlation: parseFloat(field(record, columns, "corr")),
		CointPValue: parseFloat(field(record, columns, "coint_pval")),
	}, nil
}

// field returns the raw value for a normalized column, or "" when the
// column is absent or the record is short.
func field(record []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// parseFloat returns NaN for empty or unparseable values so optional
// numeric columns degrade to "missing" rather than failing the row.
func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, format := range panelDateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
