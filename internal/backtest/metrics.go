package backtest

import (
	"math"
	"sort"
	"time"
)

// Metrics is the performance summary for one backtest run.
type Metrics struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	HitRate         float64 `json:"hit_rate"`
	TotalNetPnL     float64 `json:"total_net_pnl"`
	AvgPnLPerTrade  float64 `json:"avg_pnl_per_trade"`
	AvgHoldingDays  float64 `json:"avg_holding_days"`
	NumTradingDays  int     `json:"num_trading_days"`
	AvgFedFundsRate float64 `json:"avg_fed_funds_rate"`
	TotalReturn     float64 `json:"total_return"`
	FinalEquity     float64 `json:"final_equity"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	SortinoRatio    float64 `json:"sortino_ratio"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	MaxDrawdown     float64 `json:"max_drawdown"`
}

// DailyReturn is one point of the exit-date equity series used for the
// ratio statistics.
type DailyReturn struct {
	Date         time.Time `json:"date"`
	Equity       float64   `json:"equity"`
	Return       float64   `json:"return"`
	MarketReturn float64   `json:"market_return"`
}

// CalculateMetrics summarizes a trade log. Equity accrues cumulatively from
// the initial capital by exit date; ratio statistics come from the
// percentage-change series over those equity points. No trades yields the
// zero record; fewer than two distinct equity points keeps the trade counts
// but leaves every ratio statistic zero and the return series empty.
func CalculateMetrics(trades []*ClosedTrade, marketReturns map[time.Time]float64, avgFedFundsRate, initialCapital float64) (Metrics, []DailyReturn) {
	if len(trades) == 0 {
		return Metrics{}, nil
	}

	var m Metrics
	m.TotalTrades = len(trades)
	var holdingDays float64
	for _, t := range trades {
		m.TotalNetPnL += t.NetPnL
		holdingDays += float64(t.DaysHeld)
		if t.NetPnL > 0 {
			m.WinningTrades++
		} else {
			m.LosingTrades++
		}
	}
	m.HitRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.AvgPnLPerTrade = m.TotalNetPnL / float64(m.TotalTrades)
	m.AvgHoldingDays = holdingDays / float64(m.TotalTrades)
	if initialCapital > 0 {
		m.TotalReturn = m.TotalNetPnL / initialCapital
	}
	if avgFedFundsRate == 0 || math.IsNaN(avgFedFundsRate) {
		avgFedFundsRate = DefaultFedFundsRate
	}
	m.AvgFedFundsRate = avgFedFundsRate
	m.NumTradingDays = tradingDayCount(trades)

	daily := equitySeries(trades, marketReturns, initialCapital)
	if len(daily) < 2 {
		// Not enough equity points for any ratio statistic.
		return m, nil
	}
	m.FinalEquity = daily[len(daily)-1].Equity

	returns := make([]float64, len(daily))
	market := make([]float64, len(daily))
	for i, d := range daily {
		returns[i] = d.Return
		market[i] = d.MarketReturn
	}
	n := float64(len(returns))

	if sd := sampleStd(returns); sd > 0 {
		m.SharpeRatio = mean(returns) / sd * math.Sqrt(n)
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if sd := sampleStd(downside); sd > 0 {
		m.SortinoRatio = mean(returns) / sd * math.Sqrt(n)
	}

	if v := populationVar(market); v > 0 {
		m.Beta = sampleCov(returns, market) / v
	}
	dailyRfr := m.AvgFedFundsRate / float64(m.NumTradingDays)
	m.Alpha = (mean(returns) - (dailyRfr + m.Beta*(mean(market)-dailyRfr))) * n

	m.MaxDrawdown = maxDrawdown(daily)
	return m, daily
}

// tradingDayCount counts the distinct entry and exit dates across the
// trade log. The daily risk-free rate spreads the average Fed Funds rate
// over these days.
func tradingDayCount(trades []*ClosedTrade) int {
	days := make(map[time.Time]struct{}, 2*len(trades))
	for _, t := range trades {
		days[t.EntryDate] = struct{}{}
		days[t.ExitDate] = struct{}{}
	}
	return len(days)
}

// equitySeries groups net PnL by exit date and accumulates it onto the
// initial capital, then derives percentage-change returns with the first
// observation fixed at zero.
func equitySeries(trades []*ClosedTrade, marketReturns map[time.Time]float64, initialCapital float64) []DailyReturn {
	pnlByDate := make(map[time.Time]float64)
	for _, t := range trades {
		pnlByDate[t.ExitDate] += t.NetPnL
	}
	dates := make([]time.Time, 0, len(pnlByDate))
	for d := range pnlByDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	daily := make([]DailyReturn, 0, len(dates))
	equity := initialCapital
	prev := initialCapital
	for i, d := range dates {
		equity += pnlByDate[d]
		ret := 0.0
		if i > 0 && prev != 0 {
			ret = equity/prev - 1
		}
		daily = append(daily, DailyReturn{
			Date:         d,
			Equity:       equity,
			Return:       ret,
			MarketReturn: marketReturns[d],
		})
		prev = equity
	}
	return daily
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// positive fraction of the peak.
func maxDrawdown(daily []DailyReturn) float64 {
	var worst float64
	peak := math.Inf(-1)
	for _, d := range daily {
		if d.Equity > peak {
			peak = d.Equity
		}
		if peak > 0 {
			if dd := (peak - d.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the n-1 standard deviation; fewer than two points yield 0.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - mu) * (x - mu)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// sampleCov is the n-1 covariance of two equal-length series.
func sampleCov(xs, ys []float64) float64 {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var ss float64
	for i := range xs {
		ss += (xs[i] - mx) * (ys[i] - my)
	}
	return ss / float64(len(xs)-1)
}

// populationVar is the n-denominator variance.
func populationVar(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - mu) * (x - mu)
	}
	return ss / float64(len(xs))
}
