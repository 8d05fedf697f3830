package events

import (
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/position"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/risk"
)

// Event is the closed set of engine notifications. Each concrete event
// carries typed fields instead of a generic payload map, so subscribers
// switch on the type rather than probing keys. The bus stamps delivery
// time on the envelope.
type Event interface {
	isEvent()
}

type base struct{}

func (base) isEvent() {}

// PositionOpened fires after the entry fill is confirmed.
type PositionOpened struct {
	base
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   int     `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	Target     float64 `json:"target"`
	RiskAmount float64 `json:"risk_amount"`
}

// PartialProfit fires on a partial exit.
type PartialProfit struct {
	base
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	PnL        float64 `json:"pnl"`
	Remaining  int     `json:"remaining"`
}

// BreakEvenMoved fires when the stop is moved to break even.
type BreakEvenMoved struct {
	base
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	NewStop    float64 `json:"new_stop"`
}

// StopUpdated fires on a trailing-stop move.
type StopUpdated struct {
	base
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	OldStop    float64 `json:"old_stop"`
	NewStop    float64 `json:"new_stop"`
}

// PositionClosed fires when the last contract exits.
type PositionClosed struct {
	base
	PositionID string              `json:"position_id"`
	Symbol     string              `json:"symbol"`
	ExitPrice  float64             `json:"exit_price"`
	PnL        float64             `json:"pnl"`
	RMultiple  float64             `json:"r_multiple"`
	ExitReason position.ExitReason `json:"exit_reason"`
}

// TradingHalted fires when the loss governor halts trading.
type TradingHalted struct {
	base
	Reason  risk.HaltReason `json:"reason"`
	Message string          `json:"message"`
}

// TradingResumed fires when a halt is lifted.
type TradingResumed struct {
	base
	Previous risk.HaltReason `json:"previous"`
}

// ReconciliationMismatch fires when the exchange reports a position the
// engine is not tracking. Requires operator intervention.
type ReconciliationMismatch struct {
	base
	ContractID string `json:"contract_id"`
	NetPos     int    `json:"net_pos"`
}

// OrderFailed fires when an order exhausts its retries or is rejected.
type OrderFailed struct {
	base
	ClientID string `json:"client_id"`
	Symbol   string `json:"symbol"`
	State    string `json:"state"`
	Message  string `json:"message"`
}
