package data

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DateKey identifies one security on one trading date. Panel lookups are
// keyed by it; dates must be normalized with Day before use.
type DateKey struct {
	Date   time.Time
	Permno int64
}

// PanelRow is a single (date, permno) observation from the cleaned panel.
// ZScores carries every z-score column present for the row, keyed by the
// conventional column name (see ZColumnName).
type PanelRow struct {
	Date         time.Time
	Permno       int64
	GroupID      int64
	AdjPrc       float64
	FedFundsRate float64
	ADV20        float64
	Vwretd       float64
	GarchVol     float64
	ZScores      map[string]float64
}

// PairCandidate is one pre-screened pair from the pairs table. Correlation
// and CointPValue are NaN when the upstream file carries no such column.
type PairCandidate struct {
	PermnoBlack int64
	PermnoWhite int64
	GroupID     int64
	Correlation float64
	CointPValue float64
}

// ZColumnName returns the conventional z-score column name for a signal
// parameterization, e.g. z_ou_5d_lb20.
func ZColumnName(method string, horizon, lookback int) string {
	return fmt.Sprintf("z_%s_%dd_lb%d", method, horizon, lookback)
}

// QuarterLabel returns the calendar-quarter label for a date, e.g. 2021Q3.
// Labels sort lexically in chronological order.
func QuarterLabel(t time.Time) string {
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}

// Day normalizes a timestamp to UTC midnight so dates hash and compare
// consistently as map keys.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Panel is an immutable snapshot of the cleaned price/volume/volatility
// panel with composite-key lookups. Built once per run and treated as
// read-only during parallel execution; no locking is required on its
// accessors.
type Panel struct {
	rows         []PanelRow
	dates        []time.Time
	price        map[DateKey]float64
	adv20        map[DateKey]float64
	vol          map[DateKey]float64
	rate         map[time.Time]float64
	mktRet       map[time.Time]float64
	zscores      map[string]map[DateKey]float64
	byGroup      map[int64][]PanelRow
	groups       []int64
	priceDates   map[int64][]time.Time
	quarters     []string
	quarterDates map[string][]time.Time
	dropped      int
}

// NewPanel builds the lookup snapshot from raw rows. Rows with a non-finite
// price, rate, volume, market return, or volatility are dropped; non-finite
// z-score entries are dropped per column without discarding the row.
func NewPanel(rows []PanelRow) *Panel {
	p := &Panel{
		price:        make(map[DateKey]float64),
		adv20:        make(map[DateKey]float64),
		vol:          make(map[DateKey]float64),
		rate:         make(map[time.Time]float64),
		mktRet:       make(map[time.Time]float64),
		zscores:      make(map[string]map[DateKey]float64),
		byGroup:      make(map[int64][]PanelRow),
		priceDates:   make(map[int64][]time.Time),
		quarterDates: make(map[string][]time.Time),
	}

	dateSet := make(map[time.Time]struct{})
	for _, row := range rows {
		if !finite(row.AdjPrc) || !finite(row.FedFundsRate) || !finite(row.ADV20) ||
			!finite(row.Vwretd) || !finite(row.GarchVol) {
			p.dropped++
			continue
		}
		row.Date = Day(row.Date)
		key := DateKey{Date: row.Date, Permno: row.Permno}

		p.price[key] = row.AdjPrc
		p.adv20[key] = row.ADV20
		p.vol[key] = row.GarchVol
		p.rate[row.Date] = row.FedFundsRate
		p.mktRet[row.Date] = row.Vwretd

		for col, z := range row.ZScores {
			if !finite(z) {
				continue
			}
			if p.zscores[col] == nil {
				p.zscores[col] = make(map[DateKey]float64)
			}
			p.zscores[col][key] = z
		}

		p.rows = append(p.rows, row)
		p.byGroup[row.GroupID] = append(p.byGroup[row.GroupID], row)
		p.priceDates[row.Permno] = append(p.priceDates[row.Permno], row.Date)
		dateSet[row.Date] = struct{}{}
	}

	for d := range dateSet {
		p.dates = append(p.dates, d)
	}
	sort.Slice(p.dates, func(i, j int) bool { return p.dates[i].Before(p.dates[j]) })

	for g := range p.byGroup {
		p.groups = append(p.groups, g)
	}
	sort.Slice(p.groups, func(i, j int) bool { return p.groups[i] < p.groups[j] })

	for permno := range p.priceDates {
		ds := p.priceDates[permno]
		sort.Slice(ds, func(i, j int) bool { return ds[i].Before(ds[j]) })
		// Collapse duplicate dates left by repeated (date, permno) rows.
		dedup := ds[:0]
		for i, d := range ds {
			if i == 0 || !d.Equal(dedup[len(dedup)-1]) {
				dedup = append(dedup, d)
			}
		}
		p.priceDates[permno] = dedup
	}

	for _, d := range p.dates {
		q := QuarterLabel(d)
		if _, seen := p.quarterDates[q]; !seen {
			p.quarters = append(p.quarters, q)
		}
		p.quarterDates[q] = append(p.quarterDates[q], d)
	}
	sort.Strings(p.quarters)

	return p
}

// Len returns the number of rows retained after cleaning.
func (p *Panel) Len() int { return len(p.rows) }

// Dropped returns the number of rows discarded during cleaning.
func (p *Panel) Dropped() int { return p.dropped }

// TradingDates returns all trading dates in ascending order. The returned
// slice is shared and must not be modified.
func (p *Panel) TradingDates() []time.Time { return p.dates }

// Quarters returns the calendar-quarter labels in chronological order.
func (p *Panel) Quarters() []string { return p.quarters }

// QuarterDates returns the trading dates belonging to a quarter, ascending.
func (p *Panel) QuarterDates(label string) []time.Time { return p.quarterDates[label] }

// GroupIDs returns all pair-group identifiers present in the panel.
func (p *Panel) GroupIDs() []int64 { return p.groups }

// RowsByGroup returns the panel rows for one pair group.
func (p *Panel) RowsByGroup(groupID int64) []PanelRow { return p.byGroup[groupID] }

// PriceAt returns the adjusted price for (date, permno).
func (p *Panel) PriceAt(date time.Time, permno int64) (float64, bool) {
	v, ok := p.price[DateKey{Date: Day(date), Permno: permno}]
	return v, ok
}

// ADV20At returns the 20-day average dollar volume for (date, permno).
func (p *Panel) ADV20At(date time.Time, permno int64) (float64, bool) {
	v, ok := p.adv20[DateKey{Date: Day(date), Permno: permno}]
	return v, ok
}

// VolatilityAt returns the GARCH volatility estimate for (date, permno).
func (p *Panel) VolatilityAt(date time.Time, permno int64) (float64, bool) {
	v, ok := p.vol[DateKey{Date: Day(date), Permno: permno}]
	return v, ok
}

// RateAt returns the Fed Funds rate observed on a date.
func (p *Panel) RateAt(date time.Time) (float64, bool) {
	v, ok := p.rate[Day(date)]
	return v, ok
}

// MarketReturnAt returns the value-weighted market return for a date.
func (p *Panel) MarketReturnAt(date time.Time) (float64, bool) {
	v, ok := p.mktRet[Day(date)]
	return v, ok
}

// RateSeries returns the date-indexed Fed Funds series. Read-only.
func (p *Panel) RateSeries() map[time.Time]float64 { return p.rate }

// MarketReturnSeries returns the date-indexed market return series. Read-only.
func (p *Panel) MarketReturnSeries() map[time.Time]float64 { return p.mktRet }

// HasZColumn reports whether any row carries the named z-score column.
func (p *Panel) HasZColumn(column string) bool {
	return len(p.zscores[column]) > 0
}

// ZColumns returns the z-score column names present in the panel, sorted.
func (p *Panel) ZColumns() []string {
	cols := make([]string, 0, len(p.zscores))
	for col := range p.zscores {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// ZScoreAt returns the z-score in the named column for (date, permno).
func (p *Panel) ZScoreAt(column string, date time.Time, permno int64) (float64, bool) {
	m, ok := p.zscores[column]
	if !ok {
		return 0, false
	}
	v, ok := m[DateKey{Date: Day(date), Permno: permno}]
	return v, ok
}

// LastPriceBefore returns the most recent price for a security strictly
// before the given date. Used for forced end-of-period closes when the
// final date has no quote.
func (p *Panel) LastPriceBefore(date time.Time, permno int64) (float64, bool) {
	ds := p.priceDates[permno]
	day := Day(date)
	// First index with ds[i] >= day; the predecessor is the answer.
	i := sort.Search(len(ds), func(i int) bool { return !ds[i].Before(day) })
	if i == 0 {
		return 0, false
	}
	return p.price[DateKey{Date: ds[i-1], Permno: permno}], true
}

// FilterRows keeps rows with start <= date <= end. Zero bounds are open.
func FilterRows(rows []PanelRow, start, end time.Time) []PanelRow {
	out := make([]PanelRow, 0, len(rows))
	for _, row := range rows {
		d := Day(row.Date)
		if !start.IsZero() && d.Before(Day(start)) {
			continue
		}
		if !end.IsZero() && d.After(Day(end)) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// FilterPairs applies the correlation and cointegration screens. A nil
// threshold disables its screen; a screen with all-NaN statistics (column
// absent upstream) is skipped entirely, matching the loader contract.
func FilterPairs(pairs []PairCandidate, corrThreshold, cointThreshold *float64) []PairCandidate {
	hasCorr := false
	hasCoint := false
	for _, pair := range pairs {
		if finite(pair.Correlation) {
			hasCorr = true
		}
		if finite(pair.CointPValue) {
			hasCoint = true
		}
	}

	out := make([]PairCandidate, 0, len(pairs))
	for _, pair := range pairs {
		if corrThreshold != nil && hasCorr {
			if !finite(pair.Correlation) || pair.Correlation < *corrThreshold {
				continue
			}
		}
		if cointThreshold != nil && hasCoint {
			if !finite(pair.CointPValue) || pair.CointPValue > *cointThreshold {
				continue
			}
		}
		out = append(out, pair)
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
