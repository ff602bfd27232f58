package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run counters for backtest progress. Registered on the default registry so
// the monitor endpoint and tests see the same series.
var (
	SignalsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairback_signals_generated_total",
		Help: "Entry signals produced by the signal precompute pass",
	})

	TradesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairback_trades_opened_total",
		Help: "Pair trades opened across all quarters",
	})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairback_trades_closed_total",
		Help: "Pair trades closed, labeled by exit reason",
	}, []string{"reason"})

	EntriesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairback_entries_rejected_total",
		Help: "Entry signals skipped, labeled by rejection reason",
	}, []string{"reason"})

	DaysFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairback_trading_days_failed_total",
		Help: "Trading days abandoned after a processing error",
	})

	QuartersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairback_quarters_processed_total",
		Help: "Calendar quarters fully simulated",
	})
)

// Rejection reason labels for EntriesRejected.
const (
	RejectMissingVolatility   = "missing_volatility"
	RejectMissingPrice        = "missing_price"
	RejectZeroShares          = "zero_shares"
	RejectInsufficientCapital = "insufficient_capital"
)
