package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Writer persists run artifacts under a dated directory:
// trade_log.csv, daily_returns.csv, metrics.json, and report.md.
type Writer struct {
	baseDir string
}

// NewWriter creates a writer rooted at the output directory.
func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir}
}

// Write persists all artifacts for one result and returns the run
// directory.
func (w *Writer) Write(result *Result) (string, error) {
	runDir := filepath.Join(w.baseDir, time.Now().UTC().Format("2006-01-02_150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := w.writeTradeLog(filepath.Join(runDir, "trade_log.csv"), result.TradeLog); err != nil {
		return "", err
	}
	if err := w.writeDailyReturns(filepath.Join(runDir, "daily_returns.csv"), result.DailyReturns); err != nil {
		return "", err
	}
	if err := w.writeMetrics(filepath.Join(runDir, "metrics.json"), result); err != nil {
		return "", err
	}
	if err := w.writeReport(filepath.Join(runDir, "report.md"), result); err != nil {
		return "", err
	}

	log.Info().Str("dir", runDir).Int("trades", len(result.TradeLog)).
		Msg("Artifacts written")
	return runDir, nil
}

var tradeLogHeader = []string{
	"trade_id", "permno_black", "permno_white", "group_id", "side",
	"entry_date", "exit_date", "days_held",
	"entry_price_black", "entry_price_white", "exit_price_black", "exit_price_white",
	"shares_black", "shares_white", "investment_black", "investment_white",
	"z_diff_entry", "z_diff_exit",
	"gross_pnl", "transaction_costs", "financing_cost", "net_pnl", "roi",
	"max_drawdown", "exit_reason",
}

func (w *Writer) writeTradeLog(path string, trades []*ClosedTrade) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trade log: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write(tradeLogHeader); err != nil {
		return fmt.Errorf("failed to write trade log header: %w", err)
	}
	for _, t := range trades {
		record := []string{
			t.ID,
			strconv.FormatInt(t.PermnoBlack, 10),
			strconv.FormatInt(t.PermnoWhite, 10),
			strconv.FormatInt(t.GroupID, 10),
			string(t.Side),
			t.EntryDate.Format("2006-01-02"),
			t.ExitDate.Format("2006-01-02"),
			strconv.Itoa(t.DaysHeld),
			formatFloat(t.EntryPriceBlack),
			formatFloat(t.EntryPriceWhite),
			formatFloat(t.ExitPriceBlack),
			formatFloat(t.ExitPriceWhite),
			formatFloat(t.SharesBlack),
			formatFloat(t.SharesWhite),
			formatFloat(t.InvestmentBlack),
			formatFloat(t.InvestmentWhite),
			formatFloat(t.ZDiffEntry),
			formatFloat(t.ZDiffExit),
			formatFloat(t.GrossPnL),
			formatFloat(t.TransactionCosts),
			formatFloat(t.FinancingCost),
			formatFloat(t.NetPnL),
			formatFloat(t.ROI),
			formatFloat(t.MaxDrawdown),
			string(t.ExitReason),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write trade log row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) writeDailyReturns(path string, daily []DailyReturn) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create daily returns: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write([]string{"date", "equity", "return", "market_return"}); err != nil {
		return fmt.Errorf("failed to write daily returns header: %w", err)
	}
	for _, d := range daily {
		record := []string{
			d.Date.Format("2006-01-02"),
			formatFloat(d.Equity),
			formatFloat(d.Return),
			formatFloat(d.MarketReturn),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write daily returns row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) writeMetrics(path string, result *Result) error {
	payload := struct {
		GeneratedAt time.Time        `json:"generated_at"`
		Config      Config           `json:"config"`
		Metrics     Metrics          `json:"metrics"`
		Quarters    []QuarterSummary `json:"quarters"`
	}{
		GeneratedAt: time.Now().UTC(),
		Config:      result.Config,
		Metrics:     result.Metrics,
		Quarters:    result.Quarters,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func (w *Writer) writeReport(path string, result *Result) error {
	m := result.Metrics
	report := fmt.Sprintf(`# Pairs Backtest Report

Generated: %s

## Configuration

- Z-score column: %s
- Entry threshold: %.2f
- Max holding days: %d
- Initial capital: %.0f

## Performance

| Metric | Value |
|---|---|
| Total trades | %d |
| Hit rate | %.2f%% |
| Total net PnL | %.2f |
| Total return | %.2f%% |
| Sharpe ratio | %.3f |
| Sortino ratio | %.3f |
| Alpha | %.4f |
| Beta | %.3f |
| Max drawdown | %.2f%% |
| Avg holding days | %.1f |

## Quarters

| Quarter | Signals | Trades |
|---|---|---|
`,
		time.Now().UTC().Format(time.RFC3339),
		result.Config.ZColumn(),
		result.Config.ZScoreThreshold,
		result.Config.MaxHoldingDays,
		result.Config.InitialCapital,
		m.TotalTrades,
		m.HitRate*100,
		m.TotalNetPnL,
		m.TotalReturn*100,
		m.SharpeRatio,
		m.SortinoRatio,
		m.Alpha,
		m.Beta,
		m.MaxDrawdown*100,
		m.AvgHoldingDays,
	)
	for _, q := range result.Quarters {
		report += fmt.Sprintf("| %s | %d | %d |\n", q.Label, q.Signals, q.Trades)
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
