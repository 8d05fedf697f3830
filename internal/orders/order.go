// Package orders implements the per-order lifecycle: state machine,
// fill application, client order id generation and bounded
// retry-with-backoff on submission failure.
package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

// State is an order's lifecycle state.
type State string

const (
	StatePending         State = "PENDING"
	StateSubmitted       State = "SUBMITTED"
	StateWorking         State = "WORKING"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateRejected        State = "REJECTED"
	StateExpired         State = "EXPIRED"
	StateFailed          State = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed:
		return true
	}
	return false
}

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOverfill        = errors.New("fill exceeds remaining quantity")
	ErrOrderTerminal   = errors.New("order is in a terminal state")
	ErrAlreadyInFlight = errors.New("submission already in flight for order")
)

// Fill is one execution against an order. The fills slice on an order is
// append-only.
type Fill struct {
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Order tracks one submission attempt sequence. ClientID is the locally
// generated idempotency key and never changes; ExchangeID is assigned on
// acknowledgment.
type Order struct {
	ClientID   string            `json:"client_id"`
	ExchangeID string            `json:"exchange_id,omitempty"`
	Symbol     string            `json:"symbol"`
	Side       exchange.Side     `json:"side"`
	Type       exchange.OrderType `json:"type"`
	Quantity   int               `json:"quantity"`
	Price      float64           `json:"price,omitempty"`
	StopPrice  float64           `json:"stop_price,omitempty"`
	Bracket    *exchange.Bracket `json:"bracket,omitempty"`

	State            State   `json:"state"`
	FilledQuantity   int     `json:"filled_quantity"`
	AverageFillPrice float64 `json:"average_fill_price"`
	Fills            []Fill  `json:"fills"`
	RetryCount       int     `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrder creates a pending order with a fresh client id.
func NewOrder(symbol string, side exchange.Side, orderType exchange.OrderType, quantity int) *Order {
	now := time.Now()
	return &Order{
		ClientID:  NewClientID(),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RemainingQuantity is the unfilled contract count. The invariant
// FilledQuantity + RemainingQuantity == Quantity holds at all times.
func (o *Order) RemainingQuantity() int {
	return o.Quantity - o.FilledQuantity
}

// AddFill applies one execution. It is the only mutator of
// FilledQuantity and recomputes the size-weighted average fill price,
// then transitions to PARTIALLY_FILLED or FILLED.
func (o *Order) AddFill(f Fill) error {
	if o.State.Terminal() && o.State != StatePartiallyFilled {
		return fmt.Errorf("%w: %s is %s", ErrOrderTerminal, o.ClientID, o.State)
	}
	if f.Quantity <= 0 || f.Quantity > o.RemainingQuantity() {
		return fmt.Errorf("%w: fill %d, remaining %d", ErrOverfill, f.Quantity, o.RemainingQuantity())
	}

	prevFilled := float64(o.FilledQuantity)
	o.Fills = append(o.Fills, f)
	o.FilledQuantity += f.Quantity
	o.AverageFillPrice = (o.AverageFillPrice*prevFilled + f.Price*float64(f.Quantity)) / float64(o.FilledQuantity)

	if o.RemainingQuantity() == 0 {
		o.State = StateFilled
	} else {
		o.State = StatePartiallyFilled
	}
	o.UpdatedAt = time.Now()
	return nil
}

// ApplyExchangeStatus maps a pushed exchange status onto the state
// machine. Fill-derived states are owned by AddFill and ignored here so
// a coarse "Filled" status racing a fill event cannot corrupt the
// filled-quantity bookkeeping.
func (o *Order) ApplyExchangeStatus(status string) {
	if o.State.Terminal() {
		return
	}
	switch status {
	case exchange.StatusWorking:
		if o.State == StateSubmitted || o.State == StatePending {
			o.State = StateWorking
		}
	case exchange.StatusCanceled:
		o.State = StateCancelled
	case exchange.StatusRejected:
		o.State = StateRejected
	case exchange.StatusExpired:
		o.State = StateExpired
	}
	o.UpdatedAt = time.Now()
}
