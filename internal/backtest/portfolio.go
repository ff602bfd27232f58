package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/statarb/pairback/internal/data"
	"github.com/statarb/pairback/internal/telemetry"
)

// EquityPoint is one dated observation of the portfolio equity curve. The
// curve is seeded with a zero-date point at the initial capital before any
// trading day.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// PortfolioManager runs the daily position state machine for one quarter:
// accrue financing and mark open trades, evaluate exits, return freed
// capital, then allocate new entries from the day's signals. A persistently
// stretched spread stacks a new trade each day until capital or liquidity
// runs out; nothing limits open positions per pair. The manager is
// single-threaded; parallelism lives one level up, across quarters.
type PortfolioManager struct {
	panel *data.Panel
	gen   *SignalGenerator
	cfg   Config

	capital float64
	open    []*OpenTrade

	maxEquity float64
	equity    []EquityPoint
	closed    []*ClosedTrade
}

// NewPortfolioManager starts a fresh portfolio with the configured initial
// capital.
func NewPortfolioManager(panel *data.Panel, gen *SignalGenerator, cfg Config) *PortfolioManager {
	return &PortfolioManager{
		panel:     panel,
		gen:       gen,
		cfg:       cfg.withDefaults(),
		capital:   cfg.InitialCapital,
		maxEquity: cfg.InitialCapital,
		equity:    []EquityPoint{{Date: time.Time{}, Equity: cfg.InitialCapital}},
	}
}

// Capital returns the capital currently available for new entries.
func (pm *PortfolioManager) Capital() float64 { return pm.capital }

// OpenPositions returns the number of currently open trades.
func (pm *PortfolioManager) OpenPositions() int { return len(pm.open) }

// ClosedTrades returns every trade closed so far, in close order.
func (pm *PortfolioManager) ClosedTrades() []*ClosedTrade { return pm.closed }

// EquityCurve returns the equity observations recorded so far, starting at
// the initial-capital seed point.
func (pm *PortfolioManager) EquityCurve() []EquityPoint { return pm.equity }

// ProcessTradingDay advances the portfolio by one day: financing and
// mark-to-market first, then exits, then entries funded by whatever capital
// the day's closes released. Returns the trades closed on this day.
func (pm *PortfolioManager) ProcessTradingDay(date time.Time, signals []Signal) ([]*ClosedTrade, error) {
	date = data.Day(date)

	rate, ok := pm.panel.RateAt(date)
	if !ok {
		rate = DefaultFedFundsRate
	}
	for _, trade := range pm.open {
		trade.AccrueFinancing(rate)
		pb, okB := pm.panel.PriceAt(date, trade.PermnoBlack)
		pw, okW := pm.panel.PriceAt(date, trade.PermnoWhite)
		if okB && okW {
			trade.MarkToMarket(pb, pw)
		}
	}

	dayClosed, err := pm.processExits(date)
	if err != nil {
		return nil, err
	}

	if err := pm.processEntries(date, signals); err != nil {
		return nil, err
	}

	pm.recordEquity(date, realizedPnL(dayClosed))
	return dayClosed, nil
}

// CloseAllAtEnd force-closes every remaining open trade at the end of the
// simulation period. When the final date has no quote for a leg, the most
// recent prior price stands in; a leg with no price history at all leaves
// the trade unclosed and logged.
func (pm *PortfolioManager) CloseAllAtEnd(finalDate time.Time) ([]*ClosedTrade, error) {
	finalDate = data.Day(finalDate)

	var dayClosed []*ClosedTrade
	remaining := pm.open[:0]
	for _, trade := range pm.open {
		pb, okB := pm.exitPrice(finalDate, trade.PermnoBlack)
		pw, okW := pm.exitPrice(finalDate, trade.PermnoWhite)
		if !okB || !okW {
			log.Warn().Str("trade_id", trade.ID).
				Int64("permno_black", trade.PermnoBlack).
				Int64("permno_white", trade.PermnoWhite).
				Msg("No price history for forced close, trade dropped from settlement")
			remaining = append(remaining, trade)
			continue
		}
		closed, err := trade.Close(finalDate, pb, pw, ExitEndOfPeriod, 0)
		if err != nil {
			return nil, fmt.Errorf("forced close of trade %s: %w", trade.ID, err)
		}
		pm.settle(trade, closed)
		dayClosed = append(dayClosed, closed)
	}
	pm.open = remaining

	if len(dayClosed) > 0 {
		pm.recordEquity(finalDate, realizedPnL(dayClosed))
	}
	return dayClosed, nil
}

// processExits closes trades whose spread has reverted through zero or that
// hit the holding limit. A missing exit price holds the trade over to the
// next day.
func (pm *PortfolioManager) processExits(date time.Time) ([]*ClosedTrade, error) {
	var dayClosed []*ClosedTrade
	remaining := pm.open[:0]
	for _, trade := range pm.open {
		zDiff, hasZ := pm.gen.ZDiff(date, trade.PermnoBlack, trade.PermnoWhite)
		reverted := hasZ && spreadReverted(trade.Side, zDiff)
		expired := trade.DaysHeld >= pm.cfg.MaxHoldingDays
		if !reverted && !expired {
			remaining = append(remaining, trade)
			continue
		}

		pb, okB := pm.panel.PriceAt(date, trade.PermnoBlack)
		pw, okW := pm.panel.PriceAt(date, trade.PermnoWhite)
		if !okB || !okW {
			log.Debug().Str("trade_id", trade.ID).Time("date", date).
				Int64("permno_black", trade.PermnoBlack).
				Int64("permno_white", trade.PermnoWhite).
				Msg("Exit price missing, holding trade over")
			remaining = append(remaining, trade)
			continue
		}

		reason := ExitMaxHolding
		if reverted {
			reason = ExitMeanReversion
		}
		zExit := 0.0
		if hasZ {
			zExit = zDiff
		}
		closed, err := trade.Close(date, pb, pw, reason, zExit)
		if err != nil {
			return nil, fmt.Errorf("close trade %s: %w", trade.ID, err)
		}
		pm.settle(trade, closed)
		dayClosed = append(dayClosed, closed)
	}
	pm.open = remaining
	return dayClosed, nil
}

// processEntries sizes and opens positions for the day's signals. Capital
// is allocated across valid signals by inverse GARCH volatility and
// committed first come first served in signal order; affordability covers
// both legs' notional plus the entry transaction cost.
func (pm *PortfolioManager) processEntries(date time.Time, signals []Signal) error {
	if len(signals) == 0 || pm.capital <= 0 {
		return nil
	}

	type candidate struct {
		sig    Signal
		weight float64
		pb, pw float64
	}

	var candidates []candidate
	var weightSum float64
	for _, sig := range signals {
		pb, okB := pm.panel.PriceAt(date, sig.PermnoBlack)
		pw, okW := pm.panel.PriceAt(date, sig.PermnoWhite)
		if !okB || !okW || pb <= 0 || pw <= 0 {
			telemetry.EntriesRejected.WithLabelValues(telemetry.RejectMissingPrice).Inc()
			continue
		}
		vb, okB := pm.panel.VolatilityAt(date, sig.PermnoBlack)
		vw, okW := pm.panel.VolatilityAt(date, sig.PermnoWhite)
		if !okB || !okW || vb <= 0 || vw <= 0 {
			telemetry.EntriesRejected.WithLabelValues(telemetry.RejectMissingVolatility).Inc()
			continue
		}
		w := 1.0 / ((vb + vw) / 2)
		candidates = append(candidates, candidate{sig: sig, weight: w, pb: pb, pw: pw})
		weightSum += w
	}
	if len(candidates) == 0 || weightSum <= 0 {
		return nil
	}

	budget := pm.capital
	for _, c := range candidates {
		allocation := budget * c.weight / weightSum
		legCapital := allocation / 2

		sharesBlack := pm.sizeLeg(date, c.sig.PermnoBlack, legCapital, c.pb)
		sharesWhite := pm.sizeLeg(date, c.sig.PermnoWhite, legCapital, c.pw)
		if sharesBlack <= 0 || sharesWhite <= 0 {
			telemetry.EntriesRejected.WithLabelValues(telemetry.RejectZeroShares).Inc()
			continue
		}

		investBlack := sharesBlack * c.pb
		investWhite := sharesWhite * c.pw
		entryCost := (sharesBlack + sharesWhite) * TransactionCostPerShare
		if investBlack+investWhite+entryCost > pm.capital {
			telemetry.EntriesRejected.WithLabelValues(telemetry.RejectInsufficientCapital).Inc()
			continue
		}

		trade, err := NewOpenTrade(c.sig, c.pb, c.pw, sharesBlack, sharesWhite, investBlack, investWhite)
		if err != nil {
			return fmt.Errorf("open trade for pair (%d, %d): %w", c.sig.PermnoBlack, c.sig.PermnoWhite, err)
		}

		pm.capital -= trade.TotalInvestment()
		pm.open = append(pm.open, trade)
		telemetry.TradesOpened.Inc()
	}
	return nil
}

// sizeLeg converts leg capital into whole shares, capped at a fraction of
// the security's 20-day average dollar volume. A missing ADV observation
// falls back to the capital-only size.
func (pm *PortfolioManager) sizeLeg(date time.Time, permno int64, legCapital, price float64) float64 {
	byCapital := math.Floor(legCapital / price)
	adv, ok := pm.panel.ADV20At(date, permno)
	if !ok {
		log.Debug().Int64("permno", permno).Time("date", date).
			Msg("ADV missing, sizing leg on capital only")
		return byCapital
	}
	byLiquidity := math.Floor(LiquidityADVFraction * adv / price)
	return math.Min(byCapital, byLiquidity)
}

// exitPrice returns the price on the date, or the most recent prior quote.
func (pm *PortfolioManager) exitPrice(date time.Time, permno int64) (float64, bool) {
	if p, ok := pm.panel.PriceAt(date, permno); ok {
		return p, true
	}
	return pm.panel.LastPriceBefore(date, permno)
}

// settle returns a closed trade's capital plus realized PnL to the pool.
func (pm *PortfolioManager) settle(trade *OpenTrade, closed *ClosedTrade) {
	pm.capital += trade.TotalInvestment() + closed.NetPnL
	pm.closed = append(pm.closed, closed)
	telemetry.TradesClosed.WithLabelValues(string(closed.ExitReason)).Inc()
}

// recordEquity appends the day's equity as the running high-water mark plus
// the day's realized PnL.
func (pm *PortfolioManager) recordEquity(date time.Time, dayPnL float64) {
	eq := pm.maxEquity + dayPnL
	pm.equity = append(pm.equity, EquityPoint{Date: date, Equity: eq})
	if eq > pm.maxEquity {
		pm.maxEquity = eq
	}
}

// spreadReverted reports whether the z spread has crossed zero against the
// entry direction.
func spreadReverted(side Side, zDiff float64) bool {
	switch side {
	case SideShortBlackLongWhite:
		return zDiff <= 0
	case SideLongBlackShortWhite:
		return zDiff >= 0
	default:
		return false
	}
}

func realizedPnL(trades []*ClosedTrade) float64 {
	var total float64
	for _, t := range trades {
		total += t.NetPnL
	}
	return total
}
