// Package exchange defines the boundary to the remote futures exchange:
// a REST client for order entry and account queries, and a websocket
// stream for order, fill and position push events.
package exchange

import "time"

// Side represents order direction.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the exchange order type.
type OrderType string

const (
	TypeMarket OrderType = "Market"
	TypeLimit  OrderType = "Limit"
	TypeStop   OrderType = "Stop"
)

// Bracket carries the protective orders attached to an entry.
type Bracket struct {
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

// OrderRequest is the payload for order submission.
type OrderRequest struct {
	ClientID  string    `json:"clientId"` // idempotency key, generated locally
	AccountID string    `json:"accountId"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price,omitempty"`     // limit orders
	StopPrice float64   `json:"stopPrice,omitempty"` // stop orders
	Bracket   *Bracket  `json:"bracket,omitempty"`
}

// OrderModification adjusts a resting order in place. Nil fields are
// left unchanged.
type OrderModification struct {
	StopPrice *float64 `json:"stopPrice,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Quantity  *int     `json:"quantity,omitempty"`
}

// CashBalance is the account balance snapshot returned by the exchange.
type CashBalance struct {
	CashBalance float64 `json:"cashBalance"`
	RealizedPnL float64 `json:"realizedPnL"`
	OpenPnL     float64 `json:"openPnL"`
}

// OpenPosition is one entry of the exchange's authoritative open-position
// list. NetPos is signed: positive long, negative short, zero flat.
type OpenPosition struct {
	ContractID string `json:"contractId"`
	NetPos     int    `json:"netPos"`
}

// OrderUpdateEvent is pushed when an order's exchange status changes.
type OrderUpdateEvent struct {
	ExchangeID string    `json:"exchangeId"`
	ClientID   string    `json:"clientId,omitempty"`
	Status     string    `json:"status"` // Working, Filled, Canceled, Rejected, Expired
	Timestamp  time.Time `json:"timestamp"`
}

// FillEvent is pushed for each execution against a working order.
type FillEvent struct {
	ExchangeID string    `json:"exchangeId"`
	Quantity   int       `json:"qty"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

// PositionEvent is pushed when the account's net position changes.
type PositionEvent struct {
	ContractID string `json:"contractId"`
	NetPos     int    `json:"netPos"`
}

// QuoteEvent is a last-trade price tick.
type QuoteEvent struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// BarEvent is a completed bar with the feed's volatility reading.
type BarEvent struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	ATR       float64   `json:"atr"`
	Timestamp time.Time `json:"timestamp"`
}

// ReconnectedEvent signals that the push channel dropped and was
// re-established. When RequiresPositionSync is set the engine must
// reconcile local state against GetOpenPositions before resuming
// tick-driven evaluation.
type ReconnectedEvent struct {
	RequiresPositionSync bool `json:"requiresPositionSync"`
}

// Exchange order status strings as they appear on the push channel.
const (
	StatusWorking   = "Working"
	StatusFilled    = "Filled"
	StatusCanceled  = "Canceled"
	StatusRejected  = "Rejected"
	StatusExpired   = "Expired"
	StatusSuspended = "Suspended"
)
