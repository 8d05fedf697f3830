package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

func TestAddFillTransitions(t *testing.T) {
	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 4)

	if err := o.AddFill(Fill{Quantity: 1, Price: 5000, Timestamp: time.Now()}); err != nil {
		t.Fatalf("AddFill: %v", err)
	}
	if o.State != StatePartiallyFilled {
		t.Errorf("state after partial = %s, want %s", o.State, StatePartiallyFilled)
	}
	if o.RemainingQuantity() != 3 {
		t.Errorf("remaining = %d, want 3", o.RemainingQuantity())
	}

	if err := o.AddFill(Fill{Quantity: 3, Price: 5001, Timestamp: time.Now()}); err != nil {
		t.Fatalf("AddFill: %v", err)
	}
	if o.State != StateFilled {
		t.Errorf("state after full fill = %s, want %s", o.State, StateFilled)
	}

	// weighted average: (1*5000 + 3*5001) / 4
	want := 5000.75
	if o.AverageFillPrice != want {
		t.Errorf("average fill = %.4f, want %.4f", o.AverageFillPrice, want)
	}
}

func TestAddFillRejectsOverfill(t *testing.T) {
	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)

	if err := o.AddFill(Fill{Quantity: 3, Price: 5000, Timestamp: time.Now()}); !errors.Is(err, ErrOverfill) {
		t.Fatalf("err = %v, want ErrOverfill", err)
	}
	if o.FilledQuantity != 0 {
		t.Errorf("rejected fill mutated quantity: %d", o.FilledQuantity)
	}
}

func TestAddFillRejectsTerminalOrder(t *testing.T) {
	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)
	o.State = StateCancelled

	if err := o.AddFill(Fill{Quantity: 1, Price: 5000, Timestamp: time.Now()}); !errors.Is(err, ErrOrderTerminal) {
		t.Fatalf("err = %v, want ErrOrderTerminal", err)
	}
}

func TestApplyExchangeStatusIgnoresFillStates(t *testing.T) {
	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)
	o.State = StateWorking

	// fill-derived states come only from AddFill
	o.ApplyExchangeStatus(exchange.StatusFilled)
	if o.State != StateWorking {
		t.Errorf("status push changed fill state: %s", o.State)
	}

	o.ApplyExchangeStatus(exchange.StatusCanceled)
	if o.State != StateCancelled {
		t.Errorf("state = %s, want %s", o.State, StateCancelled)
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []State{StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []State{StatePending, StateSubmitted, StateWorking, StatePartiallyFilled}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestClientIDFormat(t *testing.T) {
	id := NewClientID()
	if len(id) > MaxClientIDLength {
		t.Errorf("client id %q exceeds %d chars", id, MaxClientIDLength)
	}
	if !IsEngineClientID(id) {
		t.Errorf("generated id %q not recognized as ours", id)
	}
	if IsEngineClientID("manual-123") {
		t.Error("foreign id recognized as ours")
	}
	if NewClientID() == id {
		t.Error("consecutive client ids must differ")
	}
}
