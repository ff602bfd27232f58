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

// SignalGenerator precomputes entry signals for every (date, pair) from one
// z-score column of the panel. Precompute fans groups out across a worker
// pool and merges the fragments deterministically; after it returns the
// generator is read-only and safe for concurrent lookups.
type SignalGenerator struct {
	panel   *data.Panel
	pairs   []data.PairCandidate
	cfg     Config
	zColumn string

	byDate map[time.Time][]Signal
	total  int
}

// NewSignalGenerator validates that the configured z-score column exists in
// the panel and fails fast naming it when absent.
func NewSignalGenerator(panel *data.Panel, pairs []data.PairCandidate, cfg Config) (*SignalGenerator, error) {
	if panel == nil || panel.Len() == 0 {
		return nil, fmt.Errorf("panel is empty")
	}
	zColumn := cfg.ZColumn()
	if !panel.HasZColumn(zColumn) {
		return nil, fmt.Errorf("panel has no z-score column %q (available: %v)", zColumn, panel.ZColumns())
	}
	return &SignalGenerator{
		panel:   panel,
		pairs:   pairs,
		cfg:     cfg.withDefaults(),
		zColumn: zColumn,
		byDate:  make(map[time.Time][]Signal),
	}, nil
}

// ZColumn returns the panel column the generator reads.
func (g *SignalGenerator) ZColumn() string { return g.zColumn }

// ZDiff returns the black-minus-white z-score spread for a pair on a date,
// read from the same precomputed column entries use. Exit checks depend on
// this so entry and exit never disagree about the spread.
func (g *SignalGenerator) ZDiff(date time.Time, permnoBlack, permnoWhite int64) (float64, bool) {
	zb, ok := g.panel.ZScoreAt(g.zColumn, date, permnoBlack)
	if !ok {
		return 0, false
	}
	zw, ok := g.panel.ZScoreAt(g.zColumn, date, permnoWhite)
	if !ok {
		return 0, false
	}
	return zb - zw, true
}

// Precompute scans every trading date for every pair and records the dates
// where the spread breaches the entry threshold. Pair groups are processed
// in parallel; fragment order is fixed by group order so reruns produce
// identical signal sequences.
func (g *SignalGenerator) Precompute(ctx context.Context) error {
	byGroup := make(map[int64][]data.PairCandidate)
	var groupOrder []int64
	for _, pair := range g.pairs {
		if _, seen := byGroup[pair.GroupID]; !seen {
			groupOrder = append(groupOrder, pair.GroupID)
		}
		byGroup[pair.GroupID] = append(byGroup[pair.GroupID], pair)
	}

	fragments := make([][]Signal, len(groupOrder))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := g.cfg.SignalWorkers
	if workers > len(groupOrder) && len(groupOrder) > 0 {
		workers = len(groupOrder)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				fragments[idx] = g.scanGroup(byGroup[groupOrder[idx]])
			}
		}()
	}

	for idx := range groupOrder {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	for _, fragment := range fragments {
		for _, sig := range fragment {
			g.byDate[sig.Date] = append(g.byDate[sig.Date], sig)
			g.total++
		}
	}
	telemetry.SignalsGenerated.Add(float64(g.total))

	log.Info().Int("signals", g.total).Int("pairs", len(g.pairs)).
		Int("groups", len(groupOrder)).Str("z_column", g.zColumn).
		Msg("Signal precompute complete")
	return nil
}

// SignalsFor returns the entry signals for one trading date, in the stable
// pair order fixed at precompute time.
func (g *SignalGenerator) SignalsFor(date time.Time) []Signal {
	return g.byDate[data.Day(date)]
}

// Total returns the number of signals produced by Precompute.
func (g *SignalGenerator) Total() int { return g.total }

// scanGroup walks the full trading calendar for the pairs of one group.
func (g *SignalGenerator) scanGroup(pairs []data.PairCandidate) []Signal {
	var out []Signal
	for _, date := range g.panel.TradingDates() {
		for _, pair := range pairs {
			zDiff, ok := g.ZDiff(date, pair.PermnoBlack, pair.PermnoWhite)
			if !ok {
				continue
			}
			var side Side
			switch {
			case zDiff >= g.cfg.ZScoreThreshold:
				side = SideShortBlackLongWhite
			case zDiff <= -g.cfg.ZScoreThreshold:
				side = SideLongBlackShortWhite
			default:
				continue
			}
			out = append(out, Signal{
				Date:        date,
				PermnoBlack: pair.PermnoBlack,
				PermnoWhite: pair.PermnoWhite,
				GroupID:     pair.GroupID,
				Side:        side,
				ZDiff:       zDiff,
				Method:      g.cfg.ZScoreMethod,
				Horizon:     g.cfg.Horizon,
				Lookback:    g.cfg.LookbackPeriod,
			})
		}
	}
	return out
}
