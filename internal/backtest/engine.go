package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/statarb/pairback/internal/data"
	"github.com/statarb/pairback/internal/telemetry"
)

// Engine drives one full backtest: signal precompute across the panel, then
// independent per-quarter simulations executed in bounded parallel batches.
// Capital resets to the configured initial level at every quarter boundary,
// so quarters never share portfolio state and their order inside a batch
// does not matter.
type Engine struct {
	cfg   Config
	panel *data.Panel
	pairs []data.PairCandidate
	gen   *SignalGenerator
}

// quarterResult carries one quarter's output back from its worker.
type quarterResult struct {
	summary QuarterSummary
	trades  []*ClosedTrade
}

// NewEngine validates the configuration, applies the pair screens, and
// verifies the configured z-score column exists before any simulation.
func NewEngine(panel *data.Panel, pairs []data.PairCandidate, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	cfg = cfg.withDefaults()

	screened := data.FilterPairs(pairs, cfg.CorrelationThreshold, cfg.CointegrationThreshold)
	if len(screened) < len(pairs) {
		log.Info().Int("before", len(pairs)).Int("after", len(screened)).
			Msg("Pair screens applied")
	}

	gen, err := NewSignalGenerator(panel, screened, cfg)
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, panel: panel, pairs: screened, gen: gen}, nil
}

// Run executes the backtest and aggregates the trade log and performance
// metrics. An empty pair list or panel without quarters yields a valid
// empty result rather than an error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := e.gen.Precompute(ctx); err != nil {
		return nil, fmt.Errorf("signal precompute: %w", err)
	}

	quarters := e.panel.Quarters()
	results := make([]quarterResult, len(quarters))

	for batchStart := 0; batchStart < len(quarters); batchStart += e.cfg.QuarterBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batchEnd := batchStart + e.cfg.QuarterBatchSize
		if batchEnd > len(quarters) {
			batchEnd = len(quarters)
		}

		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = e.runQuarter(quarters[idx])
			}(i)
		}
		wg.Wait()

		log.Info().Str("from", quarters[batchStart]).Str("to", quarters[batchEnd-1]).
			Msg("Quarter batch complete")
	}

	result := &Result{Config: e.cfg}
	for _, qr := range results {
		result.TradeLog = append(result.TradeLog, qr.trades...)
		result.Quarters = append(result.Quarters, qr.summary)
	}

	result.Metrics, result.DailyReturns = CalculateMetrics(
		result.TradeLog, e.panel.MarketReturnSeries(), e.avgFedFundsRate(), e.cfg.InitialCapital)

	log.Info().Int("quarters", len(quarters)).Int("trades", len(result.TradeLog)).
		Float64("net_pnl", result.Metrics.TotalNetPnL).
		Dur("elapsed", time.Since(start)).
		Msg("Backtest complete")
	return result, nil
}

// runQuarter simulates one quarter with a fresh portfolio. A failing day is
// contained: it contributes no trades and the simulation moves on to the
// next day.
func (e *Engine) runQuarter(label string) quarterResult {
	dates := e.panel.QuarterDates(label)
	summary := QuarterSummary{Label: label}
	if len(dates) == 0 {
		return quarterResult{summary: summary}
	}

	pm := NewPortfolioManager(e.panel, e.gen, e.cfg)
	for _, date := range dates {
		signals := e.gen.SignalsFor(date)
		summary.Signals += len(signals)

		if err := e.processDay(pm, date, signals); err != nil {
			telemetry.DaysFailed.Inc()
			summary.Error = err.Error()
			log.Error().Err(err).Str("quarter", label).Time("date", date).
				Msg("Trading day failed, continuing")
		}
	}

	if _, err := pm.CloseAllAtEnd(dates[len(dates)-1]); err != nil {
		summary.Error = err.Error()
		log.Error().Err(err).Str("quarter", label).Msg("Forced close failed")
	}

	summary.Trades = len(pm.ClosedTrades())
	telemetry.QuartersProcessed.Inc()
	return quarterResult{summary: summary, trades: pm.ClosedTrades()}
}

// processDay runs one trading day, converting a panic into an error so a
// bad day cannot take down the quarter.
func (e *Engine) processDay(pm *PortfolioManager, date time.Time, signals []Signal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %s: %v", date.Format("2006-01-02"), r)
		}
	}()
	_, err = pm.ProcessTradingDay(date, signals)
	return err
}

// avgFedFundsRate averages the panel's rate series for the alpha
// calculation, falling back to the default when the panel has none.
func (e *Engine) avgFedFundsRate() float64 {
	series := e.panel.RateSeries()
	if len(series) == 0 {
		return DefaultFedFundsRate
	}
	var sum float64
	for _, r := range series {
		sum += r
	}
	return sum / float64(len(series))
}
