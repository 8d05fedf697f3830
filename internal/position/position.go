// Package position holds the live-position model and the two engines
// that manage an open trade: trailing-stop recalculation and
// profit-taking (partial exits, break-even moves, time exits).
package position

import (
	"time"

	"github.com/google/uuid"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/instrument"
)

// ExitReason identifies why a position (or part of it) was closed.
type ExitReason string

const (
	ExitTarget        ExitReason = "TARGET"
	ExitStopLoss      ExitReason = "STOP_LOSS"
	ExitTimeLimit     ExitReason = "TIME_LIMIT"
	ExitPartialProfit ExitReason = "PARTIAL_PROFIT"
	ExitManual        ExitReason = "MANUAL"
	ExitReconciled    ExitReason = "RECONCILED"
)

// Position is one open trade. Two distinct risk figures are carried to
// keep price and currency units apart:
//
//   - RiskPoints: |entry - stop| at entry, in price points. Drives
//     activation, partial-target and break-even distances.
//   - RiskAmount: the same risk in instrument currency (points *
//     point value * quantity), fixed at entry. It is the R-multiple
//     denominator for the life of the trade and is never recalculated,
//     even after the stop moves.
type Position struct {
	ID              string            `json:"id"`
	Symbol          string            `json:"symbol"`
	Side            exchange.Side     `json:"side"`
	EntryPrice      float64           `json:"entry_price"`
	InitialQuantity int               `json:"initial_quantity"`
	CurrentQuantity int               `json:"current_quantity"`
	StopLoss        float64           `json:"stop_loss"` // break-even and trailing both write here
	Target          float64           `json:"target"`
	RiskPoints      float64           `json:"risk_points"`
	RiskAmount      float64           `json:"risk_amount"`
	RealizedPnL     float64           `json:"realized_pnl"`
	PartialsTaken   int               `json:"partials_taken"`
	BreakEvenMoved  bool              `json:"break_even_moved"`
	BarsInTrade     int               `json:"bars_in_trade"`
	EntryTime       time.Time         `json:"entry_time"`
	EntryClientID   string            `json:"entry_client_id"` // originating bracket order
	StopExchangeID  string            `json:"stop_exchange_id,omitempty"`
	Spec            instrument.Spec   `json:"spec"`
}

// New creates a position from a filled bracket entry.
func New(symbol string, side exchange.Side, entry, stop, target float64, quantity int, spec instrument.Spec, entryClientID string) *Position {
	riskPoints := entry - stop
	if side == exchange.SideSell {
		riskPoints = stop - entry
	}
	return &Position{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      entry,
		InitialQuantity: quantity,
		CurrentQuantity: quantity,
		StopLoss:        stop,
		Target:          target,
		RiskPoints:      riskPoints,
		RiskAmount:      riskPoints * spec.PointValue() * float64(quantity),
		EntryTime:       time.Now(),
		EntryClientID:   entryClientID,
		Spec:            spec,
	}
}

// Open reports whether any quantity remains.
func (p *Position) Open() bool {
	return p.CurrentQuantity > 0
}

// PointsFrom returns the favorable price distance from entry, signed:
// positive when price has moved in the position's direction.
func (p *Position) PointsFrom(price float64) float64 {
	if p.Side == exchange.SideBuy {
		return price - p.EntryPrice
	}
	return p.EntryPrice - price
}

// UnrealizedR is the open profit at price expressed in R (multiples of
// the entry risk distance).
func (p *Position) UnrealizedR(price float64) float64 {
	if p.RiskPoints <= 0 {
		return 0
	}
	return p.PointsFrom(price) / p.RiskPoints
}

// PnL converts a fill at exitPrice for qty contracts to instrument
// currency. The point value is the single conversion site; tick value
// must never appear in P&L arithmetic directly.
func (p *Position) PnL(exitPrice float64, qty int) float64 {
	return p.PointsFrom(exitPrice) * float64(qty) * p.Spec.PointValue()
}

// RMultiple expresses a currency P&L relative to the original entry
// risk.
func (p *Position) RMultiple(pnl float64) float64 {
	if p.RiskAmount == 0 {
		return 0
	}
	return pnl / p.RiskAmount
}

// Reduce removes qty contracts from the position. CurrentQuantity only
// ever decreases.
func (p *Position) Reduce(qty int) {
	if qty > p.CurrentQuantity {
		qty = p.CurrentQuantity
	}
	p.CurrentQuantity -= qty
}
