package backtest

import (
	"fmt"
	"time"

	"github.com/statarb/pairback/internal/data"
)

// Side is the direction of a pair position.
type Side string

const (
	// SideShortBlackLongWhite shorts the black leg and buys the white leg;
	// entered when z_diff >= +threshold.
	SideShortBlackLongWhite Side = "short_black_long_white"
	// SideLongBlackShortWhite buys the black leg and shorts the white leg;
	// entered when z_diff <= -threshold.
	SideLongBlackShortWhite Side = "long_black_short_white"
)

// Valid reports whether s is one of the two recognized sides.
func (s Side) Valid() bool {
	return s == SideShortBlackLongWhite || s == SideLongBlackShortWhite
}

// ExitReason records why a trade closed.
type ExitReason string

const (
	ExitMeanReversion ExitReason = "mean_reversion"
	ExitMaxHolding    ExitReason = "max_holding"
	ExitEndOfPeriod   ExitReason = "end_of_period"
)

// Signal is one qualifying entry opportunity for a pair on a date.
// Produced by the precompute pass and consumed the same simulated day.
type Signal struct {
	Date        time.Time `json:"date"`
	PermnoBlack int64     `json:"permno_black"`
	PermnoWhite int64     `json:"permno_white"`
	GroupID     int64     `json:"group_id"`
	Side        Side      `json:"side"`
	ZDiff       float64   `json:"z_diff"`
	Method      string    `json:"zscore_method"`
	Horizon     int       `json:"horizon"`
	Lookback    int       `json:"lookback"`
}

// Financing and cost constants shared by Trade and PortfolioManager.
const (
	// DefaultShortSpread is 100 bps over Fed Funds on the short leg.
	DefaultShortSpread = 0.01
	// DefaultLongSpread is 150 bps over Fed Funds on the long leg.
	DefaultLongSpread = 0.015
	// FinancingDaysPerYear is the day-count convention for carry accrual.
	FinancingDaysPerYear = 365
	// TransactionCostPerShare is the flat per-share cost applied on both
	// entry and exit, across both legs.
	TransactionCostPerShare = 0.01
	// LiquidityADVFraction caps a leg at this fraction of 20-day average
	// dollar volume.
	LiquidityADVFraction = 0.10
	// DefaultFedFundsRate is used when a date is missing from the rate
	// lookup.
	DefaultFedFundsRate = 0.02
)

// Config is the hyperparameter set for one backtest run. The JSON form is
// canonical: grid-search checkpoint keys hash it, so execution tuning knobs
// are excluded from serialization.
type Config struct {
	InitialCapital         float64  `yaml:"initial_capital" json:"initial_capital"`
	ZScoreMethod           string   `yaml:"zscore_method" json:"zscore_method"`
	ZScoreThreshold        float64  `yaml:"zscore_threshold" json:"zscore_threshold"`
	LookbackPeriod         int      `yaml:"lookback_period" json:"lookback_period"`
	Horizon                int      `yaml:"horizon" json:"horizon"`
	MaxHoldingDays         int      `yaml:"max_holding_days" json:"max_holding_days"`
	CorrelationThreshold   *float64 `yaml:"correlation_threshold,omitempty" json:"correlation_threshold,omitempty"`
	CointegrationThreshold *float64 `yaml:"cointegration_threshold,omitempty" json:"cointegration_threshold,omitempty"`

	// Execution tuning, not part of the hyperparameter identity.
	SignalWorkers    int `yaml:"signal_workers,omitempty" json:"-"`
	QuarterBatchSize int `yaml:"quarter_batch_size,omitempty" json:"-"`
}

// ZColumn returns the panel column this configuration trades on.
func (c *Config) ZColumn() string {
	return data.ZColumnName(c.ZScoreMethod, c.Horizon, c.LookbackPeriod)
}

// Validate checks the configuration before any simulation starts.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.ZScoreMethod == "" {
		return fmt.Errorf("zscore_method is required")
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("zscore_threshold must be positive, got %v", c.ZScoreThreshold)
	}
	if c.LookbackPeriod <= 0 {
		return fmt.Errorf("lookback_period must be positive, got %d", c.LookbackPeriod)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", c.Horizon)
	}
	if c.MaxHoldingDays <= 0 {
		return fmt.Errorf("max_holding_days must be positive, got %d", c.MaxHoldingDays)
	}
	return nil
}

// withDefaults fills execution tuning knobs left at zero.
func (c Config) withDefaults() Config {
	if c.SignalWorkers <= 0 {
		c.SignalWorkers = 4
	}
	if c.QuarterBatchSize <= 0 {
		c.QuarterBatchSize = 4
	}
	return c
}

// QuarterSummary reports per-quarter simulation counts.
type QuarterSummary struct {
	Label   string `json:"quarter"`
	Signals int    `json:"signals"`
	Trades  int    `json:"trades"`
	Error   string `json:"error,omitempty"`
}

// Result is the output of one full backtest run.
type Result struct {
	Config       Config           `json:"config"`
	TradeLog     []*ClosedTrade   `json:"trade_log"`
	Metrics      Metrics          `json:"metrics"`
	DailyReturns []DailyReturn    `json:"daily_returns"`
	Quarters     []QuarterSummary `json:"quarters"`
}
