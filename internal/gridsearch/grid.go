package gridsearch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/statarb/pairback/internal/backtest"
)

// Grid enumerates the hyperparameter sweep. Every listed value of every
// dimension is crossed with every other; scalar fields apply to all
// combinations.
type Grid struct {
	InitialCapital   float64   `yaml:"initial_capital"`
	ZScoreMethods    []string  `yaml:"zscore_methods"`
	ZScoreThresholds []float64 `yaml:"zscore_thresholds"`
	LookbackPeriods  []int     `yaml:"lookback_periods"`
	Horizons         []int     `yaml:"horizons"`
	MaxHoldingDays   []int     `yaml:"max_holding_days"`

	CorrelationThreshold   *float64 `yaml:"correlation_threshold,omitempty"`
	CointegrationThreshold *float64 `yaml:"cointegration_threshold,omitempty"`

	SignalWorkers    int `yaml:"signal_workers,omitempty"`
	QuarterBatchSize int `yaml:"quarter_batch_size,omitempty"`
}

// Validate checks that every sweep dimension has at least one value.
func (g *Grid) Validate() error {
	if g.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", g.InitialCapital)
	}
	for name, n := range map[string]int{
		"zscore_methods":    len(g.ZScoreMethods),
		"zscore_thresholds": len(g.ZScoreThresholds),
		"lookback_periods":  len(g.LookbackPeriods),
		"horizons":          len(g.Horizons),
		"max_holding_days":  len(g.MaxHoldingDays),
	} {
		if n == 0 {
			return fmt.Errorf("%s must list at least one value", name)
		}
	}
	return nil
}

// Combinations expands the grid into the full cross product of backtest
// configurations, in a stable order.
func (g *Grid) Combinations() []backtest.Config {
	var out []backtest.Config
	for _, method := range g.ZScoreMethods {
		for _, threshold := range g.ZScoreThresholds {
			for _, lookback := range g.LookbackPeriods {
				for _, horizon := range g.Horizons {
					for _, holding := range g.MaxHoldingDays {
						out = append(out, backtest.Config{
							InitialCapital:         g.InitialCapital,
							ZScoreMethod:           method,
							ZScoreThreshold:        threshold,
							LookbackPeriod:         lookback,
							Horizon:                horizon,
							MaxHoldingDays:         holding,
							CorrelationThreshold:   g.CorrelationThreshold,
							CointegrationThreshold: g.CointegrationThreshold,
							SignalWorkers:          g.SignalWorkers,
							QuarterBatchSize:       g.QuarterBatchSize,
						})
					}
				}
			}
		}
	}
	return out
}

// ConfigHash returns the content address of a configuration: the SHA-256 of
// its canonical JSON form. Checkpoints key on it, so resuming a sweep after
// editing unrelated grid dimensions still skips finished combinations.
func ConfigHash(cfg backtest.Config) string {
	raw, err := json.Marshal(cfg)
	if err != nil {
		// Config contains only plain scalars; Marshal cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
