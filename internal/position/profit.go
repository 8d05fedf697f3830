package position

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

// ActionType tags a profit-engine decision.
type ActionType string

const (
	ActionPartialExit ActionType = "PARTIAL_EXIT"
	ActionBreakEven   ActionType = "BREAK_EVEN"
	ActionTimeExit    ActionType = "TIME_EXIT"
	ActionTargetHit   ActionType = "TARGET_HIT"
	ActionStopHit     ActionType = "STOP_HIT"
)

// Action is one decision emitted for a tick. Exit actions carry the
// quantity removed and the realized P&L in instrument currency; the
// break-even action carries the new stop.
type Action struct {
	Type     ActionType
	Quantity int
	Price    float64
	PnL      float64
	NewStop  float64
	Reason   ExitReason
}

// ProfitConfig is the frozen profit-management configuration.
type ProfitConfig struct {
	PartialR          float64       `json:"partial_r"`            // R distance of the partial target
	PartialPercent    float64       `json:"partial_percent"`      // share of quantity to exit, 0-100
	BreakEvenTriggerR float64       `json:"break_even_trigger_r"` // unrealized R that arms the break-even move
	BreakEvenOffset   float64       `json:"break_even_offset"`    // points past entry for the new stop
	MaxBarsInTrade    int           `json:"max_bars_in_trade"`    // 0 disables the bar ceiling
	MaxTimeInTrade    time.Duration `json:"max_time_in_trade"`    // 0 disables the clock ceiling
}

// profitState is the per-position bookkeeping derived once at entry.
type profitState struct {
	partialTargetPrice float64
}

// ProfitEngine evaluates partial exits, break-even moves, time exits
// and target/stop hits on each price tick, in that order. Partial exit
// and break-even are exactly-once per position. All P&L is computed in
// instrument points and converted to currency once, with point value.
type ProfitEngine struct {
	mu     sync.Mutex
	cfg    ProfitConfig
	states map[string]*profitState
	logger zerolog.Logger
	now    func() time.Time
}

// NewProfitEngine creates the engine.
func NewProfitEngine(cfg ProfitConfig, logger zerolog.Logger) *ProfitEngine {
	return &ProfitEngine{
		cfg:    cfg,
		states: make(map[string]*profitState),
		logger: logger.With().Str("component", "ProfitEngine").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (e *ProfitEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Track derives the partial target for a newly opened position.
func (e *ProfitEngine) Track(pos *Position) {
	target := pos.EntryPrice + pos.RiskPoints*e.cfg.PartialR
	if pos.Side == exchange.SideSell {
		target = pos.EntryPrice - pos.RiskPoints*e.cfg.PartialR
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[pos.ID] = &profitState{partialTargetPrice: pos.Spec.RoundToTick(target)}

	e.logger.Info().
		Str("position", pos.ID).
		Float64("partial_target", target).
		Msg("Profit management armed")
}

// Untrack drops a closed position.
func (e *ProfitEngine) Untrack(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, positionID)
}

// PartialTarget returns the derived partial-exit price.
func (e *ProfitEngine) PartialTarget(positionID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[positionID]
	if !ok {
		return 0, false
	}
	return st.partialTargetPrice, true
}

// Evaluate runs the per-tick checks and mutates the position's partial,
// break-even and quantity bookkeeping. The returned actions still need
// their external side effects (closing orders, stop modifications,
// notifications) executed by the caller. A later check sees the
// quantity already removed by an earlier action on the same tick.
func (e *ProfitEngine) Evaluate(pos *Position, price float64) []Action {
	e.mu.Lock()
	st, ok := e.states[pos.ID]
	e.mu.Unlock()
	if !ok || !pos.Open() {
		return nil
	}

	long := pos.Side == exchange.SideBuy
	var actions []Action

	// 1. Partial exit, exactly once.
	if pos.PartialsTaken == 0 && e.cfg.PartialPercent > 0 {
		reached := (long && price >= st.partialTargetPrice) || (!long && price <= st.partialTargetPrice)
		if reached {
			qty := int(math.Floor(float64(pos.CurrentQuantity) * e.cfg.PartialPercent / 100))
			if qty > 0 {
				pnl := pos.PnL(price, qty)
				pos.Reduce(qty)
				pos.PartialsTaken++
				pos.RealizedPnL += pnl
				actions = append(actions, Action{
					Type:     ActionPartialExit,
					Quantity: qty,
					Price:    price,
					PnL:      pnl,
					Reason:   ExitPartialProfit,
				})
				e.logger.Info().
					Str("position", pos.ID).
					Int("qty", qty).
					Float64("price", price).
					Float64("pnl", pnl).
					Int("remaining", pos.CurrentQuantity).
					Msg("Partial profit taken")
			}
		}
	}

	// 2. Break-even move, exactly once. Never loosens a stop that
	// trailing has already moved past the break-even level.
	if !pos.BreakEvenMoved && e.cfg.BreakEvenTriggerR > 0 && pos.Open() {
		if pos.UnrealizedR(price) >= e.cfg.BreakEvenTriggerR {
			newStop := pos.EntryPrice + e.cfg.BreakEvenOffset
			if !long {
				newStop = pos.EntryPrice - e.cfg.BreakEvenOffset
			}
			newStop = pos.Spec.RoundToTick(newStop)

			improves := (long && newStop > pos.StopLoss) || (!long && newStop < pos.StopLoss)
			pos.BreakEvenMoved = true
			if improves {
				pos.StopLoss = newStop
				actions = append(actions, Action{Type: ActionBreakEven, NewStop: newStop, Price: price})
				e.logger.Info().
					Str("position", pos.ID).
					Float64("new_stop", newStop).
					Msg("Stop moved to break even")
			}
		}
	}

	// 3. Time exit.
	if pos.Open() {
		overBars := e.cfg.MaxBarsInTrade > 0 && pos.BarsInTrade >= e.cfg.MaxBarsInTrade
		overTime := e.cfg.MaxTimeInTrade > 0 && e.now().Sub(pos.EntryTime) >= e.cfg.MaxTimeInTrade
		if overBars || overTime {
			actions = append(actions, e.fullExit(pos, price, ActionTimeExit, ExitTimeLimit))
		}
	}

	// 4. Stop / target hit.
	if pos.Open() {
		stopHit := (long && price <= pos.StopLoss) || (!long && price >= pos.StopLoss)
		targetHit := (long && price >= pos.Target) || (!long && price <= pos.Target)
		switch {
		case stopHit:
			actions = append(actions, e.fullExit(pos, price, ActionStopHit, ExitStopLoss))
		case targetHit:
			actions = append(actions, e.fullExit(pos, price, ActionTargetHit, ExitTarget))
		}
	}

	return actions
}

func (e *ProfitEngine) fullExit(pos *Position, price float64, actionType ActionType, reason ExitReason) Action {
	qty := pos.CurrentQuantity
	pnl := pos.PnL(price, qty)
	pos.Reduce(qty)
	pos.RealizedPnL += pnl

	e.logger.Info().
		Str("position", pos.ID).
		Str("action", string(actionType)).
		Int("qty", qty).
		Float64("price", price).
		Float64("pnl", pnl).
		Msg("Full exit")

	return Action{
		Type:     actionType,
		Quantity: qty,
		Price:    price,
		PnL:      pnl,
		Reason:   reason,
	}
}
