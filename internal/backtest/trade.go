package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// OpenTrade is a live pair position. It accrues financing and marks against
// fresh prices daily until Close converts it into an immutable ClosedTrade;
// a trade can only be closed once.
type OpenTrade struct {
	ID          string
	PermnoBlack int64
	PermnoWhite int64
	GroupID     int64
	Side        Side

	EntryDate       time.Time
	EntryPriceBlack float64
	EntryPriceWhite float64
	SharesBlack     float64
	SharesWhite     float64
	InvestmentBlack float64
	InvestmentWhite float64
	ZDiffEntry      float64

	EntryTransactionCost float64

	DaysHeld      int
	FinancingCost float64
	CurrentValue  float64
	PeakValue     float64
	MaxDrawdown   float64

	closed bool
}

// ClosedTrade is one completed round trip, flattened for the trade log.
type ClosedTrade struct {
	ID          string `json:"trade_id"`
	PermnoBlack int64  `json:"permno_black"`
	PermnoWhite int64  `json:"permno_white"`
	GroupID     int64  `json:"group_id"`
	Side        Side   `json:"side"`

	EntryDate time.Time `json:"entry_date"`
	ExitDate  time.Time `json:"exit_date"`
	DaysHeld  int       `json:"days_held"`

	EntryPriceBlack float64 `json:"entry_price_black"`
	EntryPriceWhite float64 `json:"entry_price_white"`
	ExitPriceBlack  float64 `json:"exit_price_black"`
	ExitPriceWhite  float64 `json:"exit_price_white"`
	SharesBlack     float64 `json:"shares_black"`
	SharesWhite     float64 `json:"shares_white"`
	InvestmentBlack float64 `json:"investment_black"`
	InvestmentWhite float64 `json:"investment_white"`

	ZDiffEntry float64 `json:"z_diff_entry"`
	ZDiffExit  float64 `json:"z_diff_exit"`

	GrossPnL         float64 `json:"gross_pnl"`
	TransactionCosts float64 `json:"transaction_costs"`
	FinancingCost    float64 `json:"financing_cost"`
	NetPnL           float64 `json:"net_pnl"`
	ROI              float64 `json:"roi"`
	MaxDrawdown      float64 `json:"max_drawdown"`

	ExitReason ExitReason `json:"exit_reason"`
}

// TotalInvestment returns the combined capital committed to both legs.
func (t *OpenTrade) TotalInvestment() float64 {
	return t.InvestmentBlack + t.InvestmentWhite
}

// Closed reports whether Close has already been called.
func (t *OpenTrade) Closed() bool { return t.closed }

// NewOpenTrade validates and opens a pair position. Entry transaction cost
// is charged per share on both legs up front.
func NewOpenTrade(signal Signal, priceBlack, priceWhite, sharesBlack, sharesWhite, investBlack, investWhite float64) (*OpenTrade, error) {
	if !signal.Side.Valid() {
		return nil, fmt.Errorf("invalid trade side %q", signal.Side)
	}
	if priceBlack <= 0 || priceWhite <= 0 {
		return nil, fmt.Errorf("entry prices must be positive, got black=%v white=%v", priceBlack, priceWhite)
	}
	if sharesBlack <= 0 || sharesWhite <= 0 {
		return nil, fmt.Errorf("share counts must be positive, got black=%v white=%v", sharesBlack, sharesWhite)
	}
	if investBlack <= 0 || investWhite <= 0 {
		return nil, fmt.Errorf("investments must be positive, got black=%v white=%v", investBlack, investWhite)
	}

	t := &OpenTrade{
		ID:                   uuid.New().String(),
		PermnoBlack:          signal.PermnoBlack,
		PermnoWhite:          signal.PermnoWhite,
		GroupID:              signal.GroupID,
		Side:                 signal.Side,
		EntryDate:            signal.Date,
		EntryPriceBlack:      priceBlack,
		EntryPriceWhite:      priceWhite,
		SharesBlack:          sharesBlack,
		SharesWhite:          sharesWhite,
		InvestmentBlack:      investBlack,
		InvestmentWhite:      investWhite,
		ZDiffEntry:           signal.ZDiff,
		EntryTransactionCost: (sharesBlack + sharesWhite) * TransactionCostPerShare,
	}
	t.CurrentValue = t.TotalInvestment()
	t.PeakValue = t.TotalInvestment()
	return t, nil
}

// AccrueFinancing charges one day of carry at the given Fed Funds rate and
// advances the holding clock. The long leg pays rate plus the long spread;
// the short leg earns a rebate of rate plus the short spread.
func (t *OpenTrade) AccrueFinancing(rate float64) {
	shortInv, longInv := t.legInvestments()
	cost := longInv * (rate + DefaultLongSpread) / FinancingDaysPerYear
	credit := shortInv * (rate + DefaultShortSpread) / FinancingDaysPerYear
	t.FinancingCost += cost - credit
	t.DaysHeld++
}

// MarkToMarket revalues the position at fresh leg prices and updates the
// running peak and drawdown. Drawdown is recorded as a fraction of the
// peak value.
func (t *OpenTrade) MarkToMarket(priceBlack, priceWhite float64) {
	t.CurrentValue = t.TotalInvestment() + t.grossPnL(priceBlack, priceWhite)
	if t.CurrentValue > t.PeakValue {
		t.PeakValue = t.CurrentValue
	}
	if t.PeakValue > 0 {
		if dd := (t.PeakValue - t.CurrentValue) / t.PeakValue; dd > t.MaxDrawdown {
			t.MaxDrawdown = dd
		}
	}
}

// Close settles the position at exit prices and returns the completed
// record. Net PnL deducts entry and exit transaction costs plus accumulated
// financing. Closing twice is an error.
func (t *OpenTrade) Close(exitDate time.Time, priceBlack, priceWhite float64, reason ExitReason, zDiffExit float64) (*ClosedTrade, error) {
	if t.closed {
		return nil, fmt.Errorf("trade %s already closed", t.ID)
	}
	if priceBlack <= 0 || priceWhite <= 0 {
		return nil, fmt.Errorf("exit prices must be positive, got black=%v white=%v", priceBlack, priceWhite)
	}
	t.closed = true

	t.MarkToMarket(priceBlack, priceWhite)

	gross := t.grossPnL(priceBlack, priceWhite)
	exitCost := (t.SharesBlack + t.SharesWhite) * TransactionCostPerShare
	costs := t.EntryTransactionCost + exitCost
	net := gross - costs - t.FinancingCost

	roi := 0.0
	if inv := t.TotalInvestment(); inv > 0 {
		roi = net / inv
	}

	return &ClosedTrade{
		ID:               t.ID,
		PermnoBlack:      t.PermnoBlack,
		PermnoWhite:      t.PermnoWhite,
		GroupID:          t.GroupID,
		Side:             t.Side,
		EntryDate:        t.EntryDate,
		ExitDate:         exitDate,
		DaysHeld:         t.DaysHeld,
		EntryPriceBlack:  t.EntryPriceBlack,
		EntryPriceWhite:  t.EntryPriceWhite,
		ExitPriceBlack:   priceBlack,
		ExitPriceWhite:   priceWhite,
		SharesBlack:      t.SharesBlack,
		SharesWhite:      t.SharesWhite,
		InvestmentBlack:  t.InvestmentBlack,
		InvestmentWhite:  t.InvestmentWhite,
		ZDiffEntry:       t.ZDiffEntry,
		ZDiffExit:        zDiffExit,
		GrossPnL:         gross,
		TransactionCosts: costs,
		FinancingCost:    t.FinancingCost,
		NetPnL:           net,
		ROI:              roi,
		MaxDrawdown:      t.MaxDrawdown,
		ExitReason:       reason,
	}, nil
}

// grossPnL values both legs against fresh prices for the trade's direction.
func (t *OpenTrade) grossPnL(priceBlack, priceWhite float64) float64 {
	switch t.Side {
	case SideShortBlackLongWhite:
		return t.SharesBlack*(t.EntryPriceBlack-priceBlack) +
			t.SharesWhite*(priceWhite-t.EntryPriceWhite)
	case SideLongBlackShortWhite:
		return t.SharesBlack*(priceBlack-t.EntryPriceBlack) +
			t.SharesWhite*(t.EntryPriceWhite-priceWhite)
	default:
		return math.NaN()
	}
}

// legInvestments splits the committed capital into (short, long) legs by
// the trade's direction.
func (t *OpenTrade) legInvestments() (shortInv, longInv float64) {
	if t.Side == SideShortBlackLongWhite {
		return t.InvestmentBlack, t.InvestmentWhite
	}
	return t.InvestmentWhite, t.InvestmentBlack
}
