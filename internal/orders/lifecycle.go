package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

// RetryPolicy bounds submission retries. The delay before attempt n is
// BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Multiplier float64       `json:"multiplier"`
}

// DefaultRetryPolicy returns the stock submission retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second, Multiplier: 2.0}
}

// SubmissionGate is consulted synchronously immediately before every
// submission attempt, including retries. Once it reports not-allowed no
// submission may proceed, even if the decision to submit was made
// earlier.
type SubmissionGate func() (allowed bool, reason string)

// retryTask is a scheduled resubmission with a cancellable handle, so
// shutdown or a superseding cancel deterministically stops pending
// retries.
type retryTask struct {
	timer   *time.Timer
	backoff backoff.BackOff
}

func (t *retryTask) cancel() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Manager drives orders through their lifecycle: submission with
// bounded retry, exchange event application and fill bookkeeping. All
// state transitions for a tracked order go through the manager.
type Manager struct {
	mu sync.Mutex

	client          exchange.Client
	accountID       string
	policy          RetryPolicy
	retention       time.Duration
	gate            SubmissionGate
	onTerminalFail  func(*Order)
	onFillRecovered func(*Order)
	logger          zerolog.Logger

	orders       map[string]*Order     // by client id
	byExchangeID map[string]string     // exchange id -> client id
	retries      map[string]*retryTask // pending resubmissions by client id
	inFlight     map[string]bool       // one in-flight submission per client id
	filledCh     map[string]chan struct{}
	pendingFills map[string][]exchange.FillEvent // by exchange id, fills that beat the ack

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewManager creates an order lifecycle manager.
func NewManager(client exchange.Client, accountID string, policy RetryPolicy, logger zerolog.Logger) *Manager {
	return &Manager{
		client:       client,
		accountID:    accountID,
		policy:       policy,
		retention:    time.Hour,
		logger:       logger.With().Str("component", "OrderManager").Logger(),
		orders:       make(map[string]*Order),
		byExchangeID: make(map[string]string),
		retries:      make(map[string]*retryTask),
		inFlight:     make(map[string]bool),
		filledCh:     make(map[string]chan struct{}),
		pendingFills: make(map[string][]exchange.FillEvent),
		stopSweep:    make(chan struct{}),
	}
}

// SetSubmissionGate installs the pre-submission check. Retries consult
// the same gate, so a halt that lands between attempts blocks them too.
func (m *Manager) SetSubmissionGate(gate SubmissionGate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// OnTerminalFailure registers the callback invoked when an order
// exhausts its retries and stays FAILED. The coordinator relies on this
// to know no position exists.
func (m *Manager) OnTerminalFailure(cb func(*Order)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminalFail = cb
}

// OnFillRecovered registers the callback invoked when a buffered fill is
// replayed after its exchange id mapping was learned. HandleFill cannot
// return such fills to its caller, so the callback is the only delivery
// path. Invoked on its own goroutine.
func (m *Manager) OnFillRecovered(cb func(*Order)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFillRecovered = cb
}

// Get returns a tracked order by client id.
func (m *Manager) Get(clientID string) (*Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientID]
	return o, ok
}

// State returns an order's current state under the manager's lock.
func (m *Manager) State(clientID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientID]
	if !ok {
		return StateFailed, false
	}
	return o.State, true
}

// GetByExchangeID returns a tracked order by exchange id.
func (m *Manager) GetByExchangeID(exchangeID string) (*Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clientID, ok := m.byExchangeID[exchangeID]
	if !ok {
		return nil, false
	}
	o, ok := m.orders[clientID]
	return o, ok
}

// Register tracks an order that has not been submitted yet, so cancels
// and exchange events that race the submission still match. Submitting
// a registered order is the normal next step; a cancel that lands first
// marks it terminal and the submission attempt becomes a no-op.
func (m *Manager) Register(order *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(order)
}

func (m *Manager) registerLocked(order *Order) {
	m.orders[order.ClientID] = order
	if _, ok := m.filledCh[order.ClientID]; !ok {
		m.filledCh[order.ClientID] = make(chan struct{})
	}
}

// Submit registers the order and performs the first submission attempt.
// Submission failures are retried with exponential backoff up to the
// policy bound; exhaustion leaves the order FAILED and fires the
// terminal-failure callback.
func (m *Manager) Submit(ctx context.Context, order *Order) error {
	m.mu.Lock()
	if m.inFlight[order.ClientID] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyInFlight, order.ClientID)
	}
	m.registerLocked(order)
	m.mu.Unlock()

	return m.attempt(ctx, order.ClientID)
}

// attempt performs one submission try for a tracked order.
func (m *Manager) attempt(ctx context.Context, clientID string) error {
	m.mu.Lock()
	order, ok := m.orders[clientID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, clientID)
	}
	if m.inFlight[clientID] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyInFlight, clientID)
	}
	// a lost ack can be repaired by a stream event before the retry fires
	if order.State == StateWorking || order.State.Terminal() {
		m.mu.Unlock()
		return nil
	}

	// Re-check the gate at the point of submission, not only at
	// signal-validation time.
	if m.gate != nil {
		if allowed, reason := m.gate(); !allowed {
			order.State = StateFailed
			cb := m.onTerminalFail
			m.mu.Unlock()
			m.logger.Warn().Str("client_id", clientID).Str("reason", reason).
				Msg("Submission blocked by gate")
			if cb != nil {
				cb(order)
			}
			return fmt.Errorf("submission blocked: %s", reason)
		}
	}

	m.inFlight[clientID] = true
	order.State = StateSubmitted
	req := exchange.OrderRequest{
		ClientID:  order.ClientID,
		AccountID: m.accountID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Type:      order.Type,
		Quantity:  order.Quantity,
		Price:     order.Price,
		StopPrice: order.StopPrice,
		Bracket:   order.Bracket,
	}
	m.mu.Unlock()

	exchangeID, err := m.client.SubmitOrder(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[clientID] = false

	if err != nil {
		order.State = StateFailed
		m.logger.Warn().Err(err).
			Str("client_id", clientID).
			Int("retry_count", order.RetryCount).
			Msg("Order submission failed")
		return m.scheduleRetryLocked(order, err)
	}

	order.ExchangeID = exchangeID
	order.State = StateWorking
	order.UpdatedAt = time.Now()
	m.byExchangeID[exchangeID] = clientID
	delete(m.retries, clientID)
	m.logger.Info().
		Str("client_id", clientID).
		Str("exchange_id", exchangeID).
		Msg("Order acknowledged by exchange")
	m.replayBufferedLocked(order)
	return nil
}

// replayBufferedLocked applies any fills that arrived before the order's
// exchange id was known and notifies the recovery callback. Caller holds
// m.mu.
func (m *Manager) replayBufferedLocked(order *Order) {
	buffered, ok := m.pendingFills[order.ExchangeID]
	if !ok {
		return
	}
	delete(m.pendingFills, order.ExchangeID)

	for _, ev := range buffered {
		m.logger.Info().
			Str("client_id", order.ClientID).
			Str("exchange_id", order.ExchangeID).
			Msg("Replaying fill that arrived before acknowledgment")
		m.applyFillLocked(order, ev)
	}
	if cb := m.onFillRecovered; cb != nil {
		go cb(order)
	}
}

// scheduleRetryLocked arms a delayed resubmission, or gives up when the
// retry budget is spent. Caller holds m.mu.
func (m *Manager) scheduleRetryLocked(order *Order, cause error) error {
	if order.RetryCount >= m.policy.MaxRetries {
		m.logger.Error().
			Str("client_id", order.ClientID).
			Int("retries", order.RetryCount).
			Msg("Submission retries exhausted, order failed permanently")
		if cb := m.onTerminalFail; cb != nil {
			failed := order
			go cb(failed)
		}
		return fmt.Errorf("submission failed after %d retries: %w", order.RetryCount, cause)
	}

	task, exists := m.retries[order.ClientID]
	if !exists {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = m.policy.BaseDelay
		b.Multiplier = m.policy.Multiplier
		b.RandomizationFactor = 0
		b.MaxInterval = 5 * time.Minute
		b.MaxElapsedTime = 0
		task = &retryTask{backoff: b}
		m.retries[order.ClientID] = task
	}

	delay := task.backoff.NextBackOff()
	order.RetryCount++
	order.State = StatePending
	clientID := order.ClientID

	m.logger.Info().
		Str("client_id", clientID).
		Dur("delay", delay).
		Int("retry", order.RetryCount).
		Msg("Retry scheduled")

	task.timer = time.AfterFunc(delay, func() {
		if err := m.attempt(context.Background(), clientID); err != nil {
			m.logger.Debug().Err(err).Str("client_id", clientID).Msg("Retry attempt did not succeed")
		}
	})
	return nil
}

// Cancel stops any pending retry and cancels the resting order at the
// exchange when it has been acknowledged.
func (m *Manager) Cancel(ctx context.Context, clientID string) error {
	m.mu.Lock()
	order, ok := m.orders[clientID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, clientID)
	}
	if task, exists := m.retries[clientID]; exists {
		task.cancel()
		delete(m.retries, clientID)
	}
	exchangeID := order.ExchangeID
	m.mu.Unlock()

	if exchangeID == "" {
		m.mu.Lock()
		order.State = StateCancelled
		m.mu.Unlock()
		return nil
	}
	if err := m.client.CancelOrder(ctx, exchangeID); err != nil {
		return fmt.Errorf("cancel failed for %s: %w", clientID, err)
	}
	return nil
}

// WaitForConfirmation blocks until the order fills or the timeout
// elapses. A timeout is not an error: the wait resolves and final state
// determination is deferred to later exchange events.
func (m *Manager) WaitForConfirmation(ctx context.Context, clientID string, timeout time.Duration) State {
	m.mu.Lock()
	order, ok := m.orders[clientID]
	if !ok {
		m.mu.Unlock()
		return StateFailed
	}
	if order.State.Terminal() {
		state := order.State
		m.mu.Unlock()
		return state
	}
	ch := m.filledCh[clientID]
	m.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(timeout):
		m.logger.Debug().Str("client_id", clientID).Msg("Confirmation wait timed out, deferring to stream events")
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return order.State
}

// HandleOrderUpdate applies a pushed status change, matching by exchange
// id with client id as fallback.
func (m *Manager) HandleOrderUpdate(ev exchange.OrderUpdateEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.matchLocked(ev.ExchangeID, ev.ClientID)
	if order == nil {
		m.logger.Debug().Str("exchange_id", ev.ExchangeID).Msg("Order update for untracked order")
		return
	}
	if order.ExchangeID == "" && ev.ExchangeID != "" {
		order.ExchangeID = ev.ExchangeID
		m.byExchangeID[ev.ExchangeID] = order.ClientID
		m.replayBufferedLocked(order)
	}

	order.ApplyExchangeStatus(ev.Status)
	m.logger.Info().
		Str("client_id", order.ClientID).
		Str("status", ev.Status).
		Str("state", string(order.State)).
		Msg("Order state updated from exchange")
}

// HandleFill applies a pushed fill. Returns the affected order so the
// caller can react to the resulting state. A fill whose exchange id is
// not yet mapped, which happens when the push beats the REST ack, is
// buffered and replayed once the mapping is learned; the caller gets nil
// and the replay surfaces through OnFillRecovered.
func (m *Manager) HandleFill(ev exchange.FillEvent) *Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.matchLocked(ev.ExchangeID, "")
	if order == nil {
		m.pendingFills[ev.ExchangeID] = append(m.pendingFills[ev.ExchangeID], ev)
		m.logger.Warn().Str("exchange_id", ev.ExchangeID).
			Msg("Fill for unmapped exchange id, buffered until acknowledgment")
		return nil
	}

	m.applyFillLocked(order, ev)
	return order
}

// applyFillLocked books one fill against an order. Caller holds m.mu.
func (m *Manager) applyFillLocked(order *Order, ev exchange.FillEvent) {
	fill := Fill{Quantity: ev.Quantity, Price: ev.Price, Timestamp: ev.Timestamp}
	if err := order.AddFill(fill); err != nil {
		m.logger.Error().Err(err).Str("client_id", order.ClientID).Msg("Fill rejected")
		return
	}

	m.logger.Info().
		Str("client_id", order.ClientID).
		Int("qty", ev.Quantity).
		Float64("price", ev.Price).
		Int("filled", order.FilledQuantity).
		Int("remaining", order.RemainingQuantity()).
		Msg("Fill applied")

	if order.State == StateFilled {
		if ch, ok := m.filledCh[order.ClientID]; ok {
			close(ch)
			delete(m.filledCh, order.ClientID)
		}
	}
}

func (m *Manager) matchLocked(exchangeID, clientID string) *Order {
	if exchangeID != "" {
		if cid, ok := m.byExchangeID[exchangeID]; ok {
			return m.orders[cid]
		}
	}
	if clientID != "" {
		return m.orders[clientID]
	}
	return nil
}

// StartSweeper launches the background cleanup of terminal orders past
// the retention window. Cleanup is hygiene, not correctness.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.sweep()
				case <-m.stopSweep:
					return
				}
			}
		}()
	})
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.retention)
	for clientID, order := range m.orders {
		if order.State.Terminal() && order.UpdatedAt.Before(cutoff) {
			delete(m.orders, clientID)
			delete(m.filledCh, clientID)
			if order.ExchangeID != "" {
				delete(m.byExchangeID, order.ExchangeID)
			}
		}
	}
	for exchangeID, fills := range m.pendingFills {
		if len(fills) > 0 && fills[0].Timestamp.Before(cutoff) {
			m.logger.Warn().Str("exchange_id", exchangeID).
				Msg("Dropping buffered fills that were never matched")
			delete(m.pendingFills, exchangeID)
		}
	}
}

// Shutdown cancels all pending retries and stops the sweeper.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for clientID, task := range m.retries {
		task.cancel()
		delete(m.retries, clientID)
	}
	m.mu.Unlock()

	select {
	case <-m.stopSweep:
	default:
		close(m.stopSweep)
	}
}

// ActiveCount returns the number of tracked non-terminal orders.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if !o.State.Terminal() {
			n++
		}
	}
	return n
}
