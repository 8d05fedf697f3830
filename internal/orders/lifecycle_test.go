package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

// fakeClient scripts SubmitOrder outcomes per attempt.
type fakeClient struct {
	mu        sync.Mutex
	submits   int
	cancels   []string
	failFirst int           // number of leading attempts that error
	holdAck   chan struct{} // when set, the next SubmitOrder blocks until it closes
	nextID    int
}

func (f *fakeClient) SubmitOrder(_ context.Context, _ exchange.OrderRequest) (string, error) {
	f.mu.Lock()
	hold := f.holdAck
	f.holdAck = nil
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submits <= f.failFirst {
		return "", errors.New("exchange unavailable")
	}
	f.nextID++
	return string(rune('A' + f.nextID - 1)), nil
}

func (f *fakeClient) ModifyOrder(context.Context, string, exchange.OrderModification) error {
	return nil
}

func (f *fakeClient) CancelOrder(_ context.Context, exchangeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, exchangeID)
	return nil
}

func (f *fakeClient) GetCashBalance(context.Context, string) (*exchange.CashBalance, error) {
	return &exchange.CashBalance{}, nil
}

func (f *fakeClient) GetOpenPositions(context.Context, string) ([]exchange.OpenPosition, error) {
	return nil, nil
}

func (f *fakeClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func TestSubmitSuccess(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)
	if err := m.Submit(context.Background(), o); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.State != StateWorking {
		t.Errorf("state = %s, want %s", o.State, StateWorking)
	}
	if o.ExchangeID == "" {
		t.Error("exchange id not recorded")
	}
	if got, ok := m.GetByExchangeID(o.ExchangeID); !ok || got.ClientID != o.ClientID {
		t.Error("exchange id index not populated")
	}
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	client := &fakeClient{failFirst: 2}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	if err := m.Submit(context.Background(), o); err != nil {
		t.Fatalf("first attempt should schedule a retry, not error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if state, _ := m.State(o.ClientID); state == StateWorking {
			break
		}
		select {
		case <-deadline:
			state, _ := m.State(o.ClientID)
			t.Fatalf("order never reached WORKING, state=%s submits=%d", state, client.submitCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if client.submitCount() != 3 {
		t.Errorf("submit attempts = %d, want 3", client.submitCount())
	}
	if o.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", o.RetryCount)
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	client := &fakeClient{failFirst: 100}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	var terminalMu sync.Mutex
	var terminal *Order
	m.OnTerminalFailure(func(o *Order) {
		terminalMu.Lock()
		terminal = o
		terminalMu.Unlock()
	})

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	m.Submit(context.Background(), o)

	deadline := time.After(2 * time.Second)
	for {
		terminalMu.Lock()
		done := terminal != nil
		terminalMu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			state, _ := m.State(o.ClientID)
			t.Fatalf("terminal-failure callback never fired, state=%s", state)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if state, _ := m.State(o.ClientID); state != StateFailed {
		t.Errorf("state = %s, want %s", state, StateFailed)
	}
	// initial attempt plus MaxRetries resubmissions
	if n := client.submitCount(); n != 4 {
		t.Errorf("submit attempts = %d, want 4", n)
	}
}

func TestGateBlocksSubmission(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()
	m.SetSubmissionGate(func() (bool, string) { return false, "trading halted" })

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	err := m.Submit(context.Background(), o)
	if err == nil {
		t.Fatal("expected gate rejection")
	}
	if o.State != StateFailed {
		t.Errorf("state = %s, want %s", o.State, StateFailed)
	}
	if client.submitCount() != 0 {
		t.Errorf("gate-blocked order reached the exchange %d times", client.submitCount())
	}
}

func TestGateBlocksRetries(t *testing.T) {
	client := &fakeClient{failFirst: 1}
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2.0}
	m := NewManager(client, "acct-1", policy, zerolog.Nop())
	defer m.Shutdown()

	// gate opens for the first attempt, closes before the retry fires
	var gateMu sync.Mutex
	allowed := true
	m.SetSubmissionGate(func() (bool, string) {
		gateMu.Lock()
		defer gateMu.Unlock()
		return allowed, "halted mid-flight"
	})

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	m.Submit(context.Background(), o)

	gateMu.Lock()
	allowed = false
	gateMu.Unlock()

	time.Sleep(300 * time.Millisecond)
	if n := client.submitCount(); n != 1 {
		t.Errorf("retry bypassed the closed gate, submits = %d", n)
	}
	if state, _ := m.State(o.ClientID); state != StateFailed {
		t.Errorf("state = %s, want %s", state, StateFailed)
	}
}

func TestCancelBeforeAcknowledge(t *testing.T) {
	client := &fakeClient{failFirst: 100}
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2.0}
	m := NewManager(client, "acct-1", policy, zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	m.Submit(context.Background(), o)

	if err := m.Cancel(context.Background(), o.ClientID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if o.State != StateCancelled {
		t.Errorf("state = %s, want %s", o.State, StateCancelled)
	}
	if len(client.cancels) != 0 {
		t.Error("unacknowledged order should not hit the exchange cancel endpoint")
	}
}

func TestCancelWorkingOrder(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeStop, 1)
	m.Submit(context.Background(), o)

	if err := m.Cancel(context.Background(), o.ClientID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(client.cancels) != 1 || client.cancels[0] != o.ExchangeID {
		t.Errorf("exchange cancel not issued for %s: %v", o.ExchangeID, client.cancels)
	}
}

func TestHandleFillCompletesWait(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)
	m.Submit(context.Background(), o)

	done := make(chan State, 1)
	go func() {
		done <- m.WaitForConfirmation(context.Background(), o.ClientID, 5*time.Second)
	}()

	m.HandleFill(exchange.FillEvent{ExchangeID: o.ExchangeID, Quantity: 2, Price: 5000, Timestamp: time.Now()})

	select {
	case state := <-done:
		if state != StateFilled {
			t.Errorf("confirmed state = %s, want %s", state, StateFilled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForConfirmation did not resolve on fill")
	}
}

func TestWaitForConfirmationTimeout(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)
	m.Submit(context.Background(), o)

	state := m.WaitForConfirmation(context.Background(), o.ClientID, 20*time.Millisecond)
	if state != StateWorking {
		t.Errorf("state after timeout = %s, want %s", state, StateWorking)
	}
}

func TestHandleOrderUpdateBackfillsExchangeID(t *testing.T) {
	client := &fakeClient{failFirst: 100}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	m.Submit(context.Background(), o)

	// the ack was lost but the stream knows our client id
	m.HandleOrderUpdate(exchange.OrderUpdateEvent{
		ExchangeID: "X9",
		ClientID:   o.ClientID,
		Status:     exchange.StatusWorking,
	})

	got, ok := m.GetByExchangeID("X9")
	if !ok || got.ClientID != o.ClientID {
		t.Fatal("exchange id not backfilled from stream event")
	}
}

func TestFillBeforeAckIsBufferedAndReplayed(t *testing.T) {
	client := &fakeClient{holdAck: make(chan struct{})}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	var recoveredMu sync.Mutex
	var recovered *Order
	m.OnFillRecovered(func(o *Order) {
		recoveredMu.Lock()
		recovered = o
		recoveredMu.Unlock()
	})

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 2)
	go m.Submit(context.Background(), o)

	// the pushed fill lands while the REST ack is still in flight; the
	// exchange will assign id "A" to this order
	deadline := time.After(2 * time.Second)
	if got := m.HandleFill(exchange.FillEvent{ExchangeID: "A", Quantity: 2, Price: 5000, Timestamp: time.Now()}); got != nil {
		t.Fatal("fill matched before the exchange id was learned")
	}
	if state, _ := m.State(o.ClientID); state == StateFilled {
		t.Fatal("order filled before acknowledgment")
	}

	close(client.holdAck)

	for {
		if state, _ := m.State(o.ClientID); state == StateFilled {
			break
		}
		select {
		case <-deadline:
			state, _ := m.State(o.ClientID)
			t.Fatalf("buffered fill never replayed, state=%s", state)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if o.FilledQuantity != 2 || o.AverageFillPrice != 5000 {
		t.Errorf("fill bookkeeping = %d @ %.2f", o.FilledQuantity, o.AverageFillPrice)
	}

	for {
		recoveredMu.Lock()
		got := recovered
		recoveredMu.Unlock()
		if got != nil {
			if got.ClientID != o.ClientID {
				t.Errorf("recovered order = %s, want %s", got.ClientID, o.ClientID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("fill-recovered callback never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBackfillReplaysBufferedFill(t *testing.T) {
	client := &fakeClient{failFirst: 100}
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute, Multiplier: 2.0}
	m := NewManager(client, "acct-1", policy, zerolog.Nop())
	defer m.Shutdown()

	o := NewOrder("MES", exchange.SideBuy, exchange.TypeMarket, 1)
	m.Submit(context.Background(), o)

	if got := m.HandleFill(exchange.FillEvent{ExchangeID: "X9", Quantity: 1, Price: 5001, Timestamp: time.Now()}); got != nil {
		t.Fatal("fill matched before the exchange id was learned")
	}

	// the stream repairs the lost ack; the buffered fill must apply
	m.HandleOrderUpdate(exchange.OrderUpdateEvent{
		ExchangeID: "X9",
		ClientID:   o.ClientID,
		Status:     exchange.StatusWorking,
	})

	if state, _ := m.State(o.ClientID); state != StateFilled {
		t.Errorf("state = %s, want %s", state, StateFilled)
	}
	if o.FilledQuantity != 1 || o.AverageFillPrice != 5001 {
		t.Errorf("fill bookkeeping = %d @ %.2f", o.FilledQuantity, o.AverageFillPrice)
	}
}

func TestHandleFillUntrackedOrder(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, "acct-1", fastPolicy(), zerolog.Nop())
	defer m.Shutdown()

	if o := m.HandleFill(exchange.FillEvent{ExchangeID: "nope", Quantity: 1, Price: 1}); o != nil {
		t.Errorf("untracked fill returned order %+v", o)
	}
}
