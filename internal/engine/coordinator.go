package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/database"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/events"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/instrument"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/orders"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/position"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/risk"
)

// Signal rejection reasons surfaced to callers.
const (
	RejectSessionClosed = "SESSION_CLOSED"
	RejectHalted        = "TRADING_HALTED"
	RejectPositionOpen  = "POSITION_OPEN"
	RejectNotRunning    = "ENGINE_STOPPED"
)

const journalTimeout = 5 * time.Second

// Signal is a validated entry request.
type Signal struct {
	Symbol     string
	Side       exchange.Side
	EntryPrice float64
	StopLoss   float64
}

// SignalResult reports what happened to a signal. Executed means the
// entry order was accepted for submission; the position opens when the
// fill confirmation arrives.
type SignalResult struct {
	Executed bool
	Reason   string
	ClientID string
	Sizing   *risk.SizeResult
}

// Status is a point-in-time snapshot for the admin surface.
type Status struct {
	Running      bool               `json:"running"`
	SessionOpen  bool               `json:"session_open"`
	Governor     risk.State         `json:"governor"`
	Position     *position.Position `json:"position,omitempty"`
	ActiveOrders int                `json:"active_orders"`
	LastPrice    float64            `json:"last_price"`
}

// Config carries the coordinator's own knobs.
type Config struct {
	AccountID string
	Sizer     risk.SizerConfig
}

// Coordinator owns the position. Every mutation of position, governor
// and engine state runs on the single Run goroutine; external callers
// post commands and the exchange feed handlers do the same. This keeps
// ordering deterministic without per-field locking.
type Coordinator struct {
	cfg         Config
	client      exchange.Client
	orders      *orders.Manager
	governor    *risk.LossGovernor
	trailing    *position.TrailingStopEngine
	profit      *position.ProfitEngine
	instruments *instrument.Registry
	journal     *database.Journal // nil when the journal is disabled
	bus         *events.Bus
	session     *SessionGate
	logger      zerolog.Logger

	cmds chan func()
	done chan struct{}

	// read by the submission gate from retry goroutines
	canTrade    atomic.Bool
	blockReason atomic.Value // string

	// loop-owned state
	pos           *position.Position
	entryClientID string
	entryStop     float64
	entryTarget   float64
	stopClientID  string
	exitOrders    map[string]struct{} // market exits already accounted for
	lastPrice     float64

	// stop-move coalescing: at most one modification in flight, newer
	// intents overwrite the queued one rather than piling up
	stopPushInFlight bool
	pendingStopPush  *float64
}

func NewCoordinator(
	cfg Config,
	client exchange.Client,
	orderMgr *orders.Manager,
	governor *risk.LossGovernor,
	trailing *position.TrailingStopEngine,
	profit *position.ProfitEngine,
	instruments *instrument.Registry,
	journal *database.Journal,
	bus *events.Bus,
	session *SessionGate,
	logger zerolog.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		client:      client,
		orders:      orderMgr,
		governor:    governor,
		trailing:    trailing,
		profit:      profit,
		instruments: instruments,
		journal:     journal,
		bus:         bus,
		session:     session,
		logger:      logger.With().Str("component", "PositionCoordinator").Logger(),
		cmds:        make(chan func(), 256),
		done:        make(chan struct{}),
		exitOrders:  make(map[string]struct{}),
	}
	c.blockReason.Store("")
	c.refreshGate()

	orderMgr.SetSubmissionGate(c.submissionGate)
	orderMgr.OnTerminalFailure(c.onTerminalFailure)
	orderMgr.OnFillRecovered(func(order *orders.Order) {
		c.do(func() { c.routeFill(order) })
	})
	governor.OnHalt(func(ev risk.HaltEvent) {
		c.bus.Publish(events.TradingHalted{Reason: ev.Reason, Message: ev.Message})
		c.recordHalt(ev)
	})
	return c
}

// Run drains the command queue until ctx is cancelled. All state
// mutation happens here.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info().Str("account", c.cfg.AccountID).Msg("Coordinator started")
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Coordinator stopped")
			return
		case cmd := <-c.cmds:
			cmd()
		}
	}
}

// do posts fn to the loop. Returns false after shutdown.
func (c *Coordinator) do(fn func()) bool {
	select {
	case <-c.done:
		return false
	case c.cmds <- fn:
		return true
	}
}

// submissionGate is read by the order manager on every attempt,
// including retries scheduled after a halt landed.
func (c *Coordinator) submissionGate() (bool, string) {
	if c.canTrade.Load() {
		return true, ""
	}
	return false, c.blockReason.Load().(string)
}

// refreshGate mirrors the governor's verdict into the atomics the gate
// reads. Call after every governor mutation.
func (c *Coordinator) refreshGate() {
	ok, reason := c.governor.CanTrade()
	c.canTrade.Store(ok)
	c.blockReason.Store(reason)
}

// HandleSignal sizes and submits an entry for the signal. Blocks until
// the loop has processed it.
func (c *Coordinator) HandleSignal(ctx context.Context, sig Signal) (*SignalResult, error) {
	type outcome struct {
		res *SignalResult
		err error
	}
	reply := make(chan outcome, 1)

	ok := c.do(func() {
		res, err := c.handleSignal(ctx, sig)
		reply <- outcome{res, err}
	})
	if !ok {
		return &SignalResult{Reason: RejectNotRunning}, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-reply:
		return out.res, out.err
	}
}

func (c *Coordinator) handleSignal(ctx context.Context, sig Signal) (*SignalResult, error) {
	if c.session != nil && !c.session.IsOpen(time.Now()) {
		return &SignalResult{Reason: RejectSessionClosed}, nil
	}
	if ok, reason := c.governor.CanTrade(); !ok {
		c.refreshGate()
		c.logger.Warn().Str("reason", reason).Msg("Signal blocked by loss governor")
		return &SignalResult{Reason: reason}, nil
	}
	if c.pos != nil && c.pos.Open() {
		return &SignalResult{Reason: RejectPositionOpen}, nil
	}
	if c.entryClientID != "" {
		// an entry is already in flight
		return &SignalResult{Reason: RejectPositionOpen}, nil
	}

	spec, err := c.instruments.Get(sig.Symbol)
	if err != nil {
		return nil, err
	}

	sized, rej := risk.Size(sig.EntryPrice, sig.StopLoss, sig.Side, spec, c.cfg.Sizer)
	if rej != nil {
		return &SignalResult{Reason: string(rej.Reason)}, nil
	}
	if rej := risk.Validate(sized, c.cfg.Sizer); rej != nil {
		return &SignalResult{Reason: string(rej.Reason)}, nil
	}

	entry := orders.NewOrder(sig.Symbol, sig.Side, exchange.TypeMarket, sized.Contracts)
	c.orders.Register(entry)
	c.entryClientID = entry.ClientID
	c.entryStop = sig.StopLoss
	c.entryTarget = sized.TargetPrice

	// submission runs off the loop so a slow exchange call cannot stall
	// tick processing; failures come back through the manager's
	// terminal-failure callback
	go func() {
		subCtx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.orders.Submit(subCtx, entry); err != nil {
			c.logger.Error().Err(err).Str("client_id", entry.ClientID).Msg("Entry submission failed")
			c.do(func() {
				if c.entryClientID == entry.ClientID {
					c.entryClientID = ""
				}
			})
		}
	}()

	c.logger.Info().
		Str("client_id", entry.ClientID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Int("contracts", sized.Contracts).
		Float64("total_risk", sized.TotalRisk).
		Msg("Entry submitted")

	return &SignalResult{Executed: true, ClientID: entry.ClientID, Sizing: sized}, nil
}

// AwaitEntry blocks until the submitted entry order fills or the timeout
// elapses, returning the order's state either way. A timeout is not a
// failure; the fill may still arrive through the stream. Safe to call
// from any goroutine.
func (c *Coordinator) AwaitEntry(ctx context.Context, clientID string, timeout time.Duration) orders.State {
	return c.orders.WaitForConfirmation(ctx, clientID, timeout)
}

// OnTick feeds a price update into the loop. atr may be zero when no
// volatility reading is available.
func (c *Coordinator) OnTick(price, atr float64) {
	c.do(func() { c.handleTick(price, atr) })
}

// OnBar advances the bar counter for time-based exits.
func (c *Coordinator) OnBar() {
	c.do(func() {
		if c.pos == nil || !c.pos.Open() {
			return
		}
		c.pos.BarsInTrade++
		if c.lastPrice > 0 {
			c.applyActions(c.profit.Evaluate(c.pos, c.lastPrice), c.lastPrice)
		}
	})
}

// OnEquity records an account equity reading for drawdown tracking.
func (c *Coordinator) OnEquity(equity float64) {
	c.do(func() {
		c.governor.UpdateEquity(equity)
		c.refreshGate()
	})
}

// HandleFill routes an execution report into the loop.
func (c *Coordinator) HandleFill(ev exchange.FillEvent) {
	c.do(func() { c.handleFill(ev) })
}

// HandleOrderUpdate routes an order status update into the loop.
func (c *Coordinator) HandleOrderUpdate(ev exchange.OrderUpdateEvent) {
	c.do(func() { c.handleOrderUpdate(ev) })
}

// HandlePositionUpdate routes an exchange position report into the loop.
func (c *Coordinator) HandlePositionUpdate(ev exchange.PositionEvent) {
	c.do(func() { c.handlePositionUpdate(ev) })
}

// HandleReconnected reconciles local state against the exchange after a
// stream gap.
func (c *Coordinator) HandleReconnected(ev exchange.ReconnectedEvent) {
	if !ev.RequiresPositionSync {
		return
	}
	c.do(func() { c.reconcile() })
}

// Halt trips a manual trading halt.
func (c *Coordinator) Halt(message string) {
	c.do(func() {
		c.governor.Halt(risk.HaltManual, message)
		c.refreshGate()
	})
}

// ResumeTrading lifts the active halt.
func (c *Coordinator) ResumeTrading() {
	c.do(func() {
		prev := c.governor.Snapshot().HaltReason
		c.governor.Resume()
		c.refreshGate()
		if prev != risk.HaltNone {
			c.bus.Publish(events.TradingResumed{Previous: prev})
		}
	})
}

// Status returns a snapshot. Safe to call from any goroutine.
func (c *Coordinator) Status() Status {
	reply := make(chan Status, 1)
	ok := c.do(func() {
		st := Status{
			Running:      true,
			SessionOpen:  c.session == nil || c.session.IsOpen(time.Now()),
			Governor:     c.governor.Snapshot(),
			ActiveOrders: c.orders.ActiveCount(),
			LastPrice:    c.lastPrice,
		}
		if c.pos != nil {
			cp := *c.pos
			st.Position = &cp
		}
		reply <- st
	})
	if !ok {
		return Status{}
	}
	return <-reply
}

func (c *Coordinator) handleTick(price, atr float64) {
	c.lastPrice = price
	if c.pos == nil || !c.pos.Open() {
		return
	}

	if upd := c.trailing.OnTick(c.pos, price, atr); upd != nil {
		c.pushStop(upd.NewStop)
		c.bus.Publish(events.StopUpdated{
			PositionID: c.pos.ID,
			Symbol:     c.pos.Symbol,
			OldStop:    upd.OldStop,
			NewStop:    upd.NewStop,
		})
	}

	c.applyActions(c.profit.Evaluate(c.pos, price), price)
}

// applyActions executes the exchange side effects for the decisions the
// profit engine already booked against the position.
func (c *Coordinator) applyActions(actions []position.Action, price float64) {
	for _, act := range actions {
		switch act.Type {
		case position.ActionPartialExit:
			c.submitExit(act.Quantity)
			remaining := c.pos.CurrentQuantity
			c.resizeStop(remaining)
			c.bus.Publish(events.PartialProfit{
				PositionID: c.pos.ID,
				Symbol:     c.pos.Symbol,
				Quantity:   act.Quantity,
				Price:      act.Price,
				PnL:        act.PnL,
				Remaining:  remaining,
			})

		case position.ActionBreakEven:
			c.pushStop(act.NewStop)
			c.trailing.SyncStop(c.pos.ID, act.NewStop, c.pos.Side)
			c.bus.Publish(events.BreakEvenMoved{
				PositionID: c.pos.ID,
				Symbol:     c.pos.Symbol,
				NewStop:    act.NewStop,
			})

		case position.ActionTimeExit, position.ActionTargetHit:
			c.submitExit(act.Quantity)
			c.cancelStop()
			c.closePosition(act.Price, act.Reason)

		case position.ActionStopHit:
			// the resting stop order performs the actual exit
			c.closePosition(act.Price, act.Reason)
		}
		if c.pos == nil {
			return
		}
	}
}

func (c *Coordinator) handleFill(ev exchange.FillEvent) {
	order := c.orders.HandleFill(ev)
	if order == nil {
		// unmapped fills are buffered by the manager and come back
		// through routeFill once the acknowledgment lands
		return
	}
	c.routeFill(order)
}

func (c *Coordinator) routeFill(order *orders.Order) {
	switch {
	case order.ClientID == c.entryClientID && order.State == orders.StateFilled:
		c.openPosition(order)

	case order.ClientID == c.stopClientID && order.State == orders.StateFilled:
		c.handleStopFill(order)

	default:
		if _, ok := c.exitOrders[order.ClientID]; ok {
			// market exits are accounted at decision time
			if order.State == orders.StateFilled {
				delete(c.exitOrders, order.ClientID)
			}
			return
		}
		c.logger.Warn().
			Str("client_id", order.ClientID).
			Msg("Fill for order the coordinator is not tracking")
	}
}

func (c *Coordinator) openPosition(entry *orders.Order) {
	spec, err := c.instruments.Get(entry.Symbol)
	if err != nil {
		c.logger.Error().Err(err).Str("symbol", entry.Symbol).Msg("Fill for unknown instrument")
		return
	}

	pos := position.New(
		entry.Symbol, entry.Side,
		entry.AverageFillPrice, c.entryStop, c.entryTarget,
		entry.FilledQuantity, spec, entry.ClientID,
	)
	c.pos = pos
	c.entryClientID = ""

	c.submitStopOrder(pos)
	c.trailing.Track(pos)
	c.profit.Track(pos)

	c.logger.Info().
		Str("position", pos.ID).
		Str("symbol", pos.Symbol).
		Int("qty", pos.CurrentQuantity).
		Float64("entry", pos.EntryPrice).
		Float64("stop", pos.StopLoss).
		Float64("target", pos.Target).
		Msg("Position opened")

	c.bus.Publish(events.PositionOpened{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Quantity:   pos.CurrentQuantity,
		EntryPrice: pos.EntryPrice,
		StopLoss:   pos.StopLoss,
		Target:     pos.Target,
		RiskAmount: pos.RiskAmount,
	})
}

// submitStopOrder places the protective stop for a fresh position. The
// client id is recorded before the off-loop submission so fills and
// updates for the stop match from the first event.
func (c *Coordinator) submitStopOrder(pos *position.Position) {
	stop := orders.NewOrder(pos.Symbol, pos.Side.Opposite(), exchange.TypeStop, pos.CurrentQuantity)
	stop.StopPrice = pos.StopLoss
	c.orders.Register(stop)
	c.stopClientID = stop.ClientID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.orders.Submit(ctx, stop); err != nil {
			c.logger.Error().Err(err).Str("position", pos.ID).Msg("Protective stop submission failed")
		}
	}()
}

// handleStopFill books an exchange-side stop-out the tick loop has not
// detected yet.
func (c *Coordinator) handleStopFill(stop *orders.Order) {
	c.stopClientID = ""
	if c.pos == nil || !c.pos.Open() {
		return
	}

	qty := c.pos.CurrentQuantity
	pnl := c.pos.PnL(stop.AverageFillPrice, qty)
	c.pos.Reduce(qty)
	c.pos.RealizedPnL += pnl
	c.closePosition(stop.AverageFillPrice, position.ExitStopLoss)
}

func (c *Coordinator) handleOrderUpdate(ev exchange.OrderUpdateEvent) {
	c.orders.HandleOrderUpdate(ev)

	if c.stopClientID != "" && c.pos != nil {
		if order, ok := c.orders.Get(c.stopClientID); ok && order.ExchangeID != "" {
			c.pos.StopExchangeID = order.ExchangeID
		}
	}
}

func (c *Coordinator) handlePositionUpdate(ev exchange.PositionEvent) {
	if c.pos == nil || !c.pos.Open() {
		return
	}
	if ev.ContractID == c.pos.Symbol && ev.NetPos == 0 {
		c.logger.Warn().Str("position", c.pos.ID).Msg("Exchange reports flat, closing local position")
		c.closeFlat(position.ExitReconciled)
	}
}

// reconcile fetches the exchange's open positions off the loop and posts
// the comparison back. The exchange is authoritative when it reports
// flat; an exchange position the engine never opened is never adopted.
func (c *Coordinator) reconcile() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()

		open, err := c.client.GetOpenPositions(ctx, c.cfg.AccountID)
		if err != nil {
			c.logger.Error().Err(err).Msg("Reconciliation query failed")
			return
		}
		c.do(func() { c.finishReconcile(open) })
	}()
}

func (c *Coordinator) finishReconcile(open []exchange.OpenPosition) {
	byContract := make(map[string]int, len(open))
	for _, p := range open {
		byContract[p.ContractID] = p.NetPos
	}

	if c.pos != nil {
		symbol := c.pos.Symbol
		if c.pos.Open() && byContract[symbol] == 0 {
			c.logger.Warn().
				Str("position", c.pos.ID).
				Msg("Position missing at exchange after reconnect, closing locally")
			c.closeFlat(position.ExitReconciled)
		}
		delete(byContract, symbol)
	}

	for contract, net := range byContract {
		if net == 0 {
			continue
		}
		c.logger.Error().
			Str("contract", contract).
			Int("net_pos", net).
			Msg("Untracked exchange position detected, manual intervention required")
		c.bus.Publish(events.ReconciliationMismatch{ContractID: contract, NetPos: net})
	}
}

// closeFlat books a close at the last known price when the exchange
// already flattened the position.
func (c *Coordinator) closeFlat(reason position.ExitReason) {
	price := c.lastPrice
	if price == 0 {
		price = c.pos.EntryPrice
	}

	qty := c.pos.CurrentQuantity
	pnl := c.pos.PnL(price, qty)
	c.pos.Reduce(qty)
	c.pos.RealizedPnL += pnl
	c.cancelStop()
	c.closePosition(price, reason)
}

// closePosition finalizes accounting after the position's quantity has
// reached zero.
func (c *Coordinator) closePosition(exitPrice float64, reason position.ExitReason) {
	pos := c.pos
	total := pos.RealizedPnL
	r := pos.RMultiple(total)

	c.governor.RecordTrade(total)
	c.refreshGate()

	c.logger.Info().
		Str("position", pos.ID).
		Str("reason", string(reason)).
		Float64("pnl", total).
		Float64("r_multiple", r).
		Msg("Position closed")

	c.recordTrade(pos, exitPrice, total, r, reason)

	c.bus.Publish(events.PositionClosed{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		ExitPrice:  exitPrice,
		PnL:        total,
		RMultiple:  r,
		ExitReason: reason,
	})

	c.trailing.Untrack(pos.ID)
	c.profit.Untrack(pos.ID)
	c.pos = nil
	c.stopClientID = ""

	// exit ids stay registered until their fills arrive, so a fill that
	// lands after teardown is still recognized; ids whose orders died
	// without filling are dropped
	for id := range c.exitOrders {
		if st, ok := c.orders.State(id); ok && st.Terminal() && st != orders.StateFilled {
			delete(c.exitOrders, id)
		}
	}
}

// submitExit sends a market order for qty contracts against the
// position. The order is registered before submission so its fill is
// recognized whenever it arrives; the submission itself runs off the
// loop.
func (c *Coordinator) submitExit(qty int) {
	if qty <= 0 {
		return
	}
	exit := orders.NewOrder(c.pos.Symbol, c.pos.Side.Opposite(), exchange.TypeMarket, qty)
	c.orders.Register(exit)
	c.exitOrders[exit.ClientID] = struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.orders.Submit(ctx, exit); err != nil {
			c.logger.Error().Err(err).Int("qty", qty).Msg("Exit submission failed")
		}
	}()
}

// pushStop moves the resting stop order to a new trigger price. The
// modification runs off the loop; while one is in flight newer intents
// replace the queued one, so only the latest stop is pushed. The
// position's StopLoss already carries the intended protection, a
// superseded push is pure noise.
func (c *Coordinator) pushStop(newStop float64) {
	if c.pos == nil {
		return
	}
	if c.pos.StopExchangeID == "" {
		c.logger.Debug().Float64("stop", newStop).Msg("Stop order not yet acknowledged, holding local stop")
		return
	}
	if c.stopPushInFlight {
		c.pendingStopPush = &newStop
		return
	}
	c.startStopPush(c.pos.StopExchangeID, newStop)
}

// startStopPush launches one stop modification and, on completion,
// chains the latest queued intent if any. Runs on the loop.
func (c *Coordinator) startStopPush(exchangeID string, newStop float64) {
	c.stopPushInFlight = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		mod := exchange.OrderModification{StopPrice: &newStop}
		err := c.client.ModifyOrder(ctx, exchangeID, mod)

		c.do(func() {
			c.stopPushInFlight = false
			if err != nil {
				c.logger.Error().Err(err).Float64("stop", newStop).Msg("Stop modification failed")
			}
			if next := c.pendingStopPush; next != nil {
				c.pendingStopPush = nil
				if c.pos != nil && c.pos.StopExchangeID != "" {
					c.startStopPush(c.pos.StopExchangeID, *next)
				}
			}
		})
	}()
}

// resizeStop trims the resting stop to the remaining quantity after a
// partial exit.
func (c *Coordinator) resizeStop(remaining int) {
	if c.pos == nil || c.pos.StopExchangeID == "" || remaining <= 0 {
		return
	}
	exchangeID := c.pos.StopExchangeID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		mod := exchange.OrderModification{Quantity: &remaining}
		if err := c.client.ModifyOrder(ctx, exchangeID, mod); err != nil {
			c.logger.Error().Err(err).Int("qty", remaining).Msg("Stop resize failed")
		}
	}()
}

// cancelStop pulls the resting stop when the position exits another way.
func (c *Coordinator) cancelStop() {
	if c.stopClientID == "" {
		return
	}
	clientID := c.stopClientID
	c.stopClientID = ""

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.orders.Cancel(ctx, clientID); err != nil {
			c.logger.Warn().Err(err).Str("client_id", clientID).Msg("Stop cancel failed")
		}
	}()
}

func (c *Coordinator) onTerminalFailure(order *orders.Order) {
	c.bus.Publish(events.OrderFailed{
		ClientID: order.ClientID,
		Symbol:   order.Symbol,
		State:    string(order.State),
		Message:  "order failed permanently after retries",
	})

	c.do(func() {
		if order.ClientID == c.entryClientID {
			c.entryClientID = ""
		}
		if order.ClientID == c.stopClientID && c.pos != nil && c.pos.Open() {
			// a naked position is worse than a forced exit
			c.logger.Error().Str("position", c.pos.ID).Msg("Protective stop unrecoverable, flattening")
			c.stopClientID = ""
			qty := c.pos.CurrentQuantity
			price := c.lastPrice
			if price == 0 {
				price = c.pos.EntryPrice
			}
			pnl := c.pos.PnL(price, qty)
			c.pos.Reduce(qty)
			c.pos.RealizedPnL += pnl
			c.submitExit(qty)
			c.closePosition(price, position.ExitManual)
		}
	})
}

func (c *Coordinator) recordTrade(pos *position.Position, exitPrice, pnl, r float64, reason position.ExitReason) {
	if c.journal == nil {
		return
	}

	rec := &database.TradeRecord{
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.InitialQuantity,
		RiskAmount: pos.RiskAmount,
		PnL:        pnl,
		RMultiple:  r,
		ExitReason: string(reason),
		EntryTime:  pos.EntryTime,
		ExitTime:   time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.journal.RecordTrade(ctx, rec); err != nil {
			c.logger.Error().Err(err).Msg("Trade journal write failed")
		}
	}()
}

func (c *Coordinator) recordHalt(ev risk.HaltEvent) {
	if c.journal == nil {
		return
	}

	state := c.governor.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.journal.RecordHalt(ctx, string(ev.Reason), ev.Message, state); err != nil {
			c.logger.Error().Err(err).Msg("Halt journal write failed")
		}
	}()
}
