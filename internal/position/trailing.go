package position

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

// TrailingMode selects how the candidate stop is derived from the price
// extremum.
type TrailingMode string

const (
	TrailRisk  TrailingMode = "risk"  // extremum -/+ entry risk distance
	TrailATR   TrailingMode = "atr"   // extremum -/+ ATR * multiplier
	TrailFixed TrailingMode = "fixed" // extremum -/+ fixed point amount
)

// TrailingConfig is the frozen trailing-stop configuration.
type TrailingConfig struct {
	Mode          TrailingMode `json:"mode"`
	ActivationR   float64      `json:"activation_r"`   // profit in R required before trailing arms
	ATRMultiplier float64      `json:"atr_multiplier"` // TrailATR
	FixedPoints   float64      `json:"fixed_points"`   // TrailFixed
	StepPoints    float64      `json:"step_points"`    // minimum improvement before moving the stop
}

// trailingState is the per-position trailing bookkeeping.
type trailingState struct {
	highestPrice    float64
	lowestPrice     float64
	isActivated     bool
	activationPrice float64
	currentStop     float64
}

// StopUpdate describes an accepted trailing-stop move that must be
// pushed to the exchange as a stop-order modification.
type StopUpdate struct {
	PositionID string
	OldStop    float64
	NewStop    float64
}

// TrailingStopEngine recomputes protective stops from price ticks. A
// long's stop only ever rises and a short's only ever falls; the
// activation latch is one-way. The engine records the intended stop
// locally whether or not the exchange modification later succeeds;
// reconciliation on reconnect is the backstop for divergence.
type TrailingStopEngine struct {
	mu     sync.Mutex
	cfg    TrailingConfig
	states map[string]*trailingState
	logger zerolog.Logger
}

// NewTrailingStopEngine creates the engine.
func NewTrailingStopEngine(cfg TrailingConfig, logger zerolog.Logger) *TrailingStopEngine {
	return &TrailingStopEngine{
		cfg:    cfg,
		states: make(map[string]*trailingState),
		logger: logger.With().Str("component", "TrailingStop").Logger(),
	}
}

// Track arms trailing for a newly opened position.
func (e *TrailingStopEngine) Track(pos *Position) {
	activation := pos.EntryPrice + pos.RiskPoints*e.cfg.ActivationR
	if pos.Side == exchange.SideSell {
		activation = pos.EntryPrice - pos.RiskPoints*e.cfg.ActivationR
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[pos.ID] = &trailingState{
		highestPrice:    pos.EntryPrice,
		lowestPrice:     pos.EntryPrice,
		activationPrice: activation,
		currentStop:     pos.StopLoss,
	}

	e.logger.Info().
		Str("position", pos.ID).
		Str("side", string(pos.Side)).
		Float64("activation_price", activation).
		Float64("initial_stop", pos.StopLoss).
		Msg("Trailing armed")
}

// Untrack drops a closed position.
func (e *TrailingStopEngine) Untrack(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, positionID)
}

// SyncStop records a stop written by another component (break-even
// move) so trailing never proposes a move back below it.
func (e *TrailingStopEngine) SyncStop(positionID string, stop float64, side exchange.Side) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[positionID]
	if !ok {
		return
	}
	if (side == exchange.SideBuy && stop > st.currentStop) ||
		(side == exchange.SideSell && stop < st.currentStop) {
		st.currentStop = stop
	}
}

// OnTick updates the extremum, arms the latch once price crosses the
// activation level and, when armed, proposes a tighter stop. A non-nil
// StopUpdate is returned only when the candidate improves the current
// stop by at least the configured step, in the protective direction.
// atr may be zero when no ATR input is available.
func (e *TrailingStopEngine) OnTick(pos *Position, price, atr float64) *StopUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[pos.ID]
	if !ok {
		return nil
	}

	long := pos.Side == exchange.SideBuy

	if long && price > st.highestPrice {
		st.highestPrice = price
	}
	if !long && price < st.lowestPrice {
		st.lowestPrice = price
	}

	if !st.isActivated {
		crossed := (long && price >= st.activationPrice) || (!long && price <= st.activationPrice)
		if !crossed {
			return nil
		}
		st.isActivated = true
		e.logger.Info().
			Str("position", pos.ID).
			Float64("price", price).
			Msg("Trailing activated")
	}

	distance := e.trailDistance(pos, atr)
	if distance <= 0 {
		return nil
	}

	var candidate float64
	if long {
		candidate = st.highestPrice - distance
	} else {
		candidate = st.lowestPrice + distance
	}
	candidate = pos.Spec.RoundToTick(candidate)

	// Accept only strictly protective moves that clear the step size,
	// so tiny advances do not thrash order modifications.
	improvement := candidate - st.currentStop
	if !long {
		improvement = st.currentStop - candidate
	}
	if improvement < e.cfg.StepPoints || improvement <= 0 {
		return nil
	}

	old := st.currentStop
	st.currentStop = candidate
	pos.StopLoss = candidate

	extremum := st.highestPrice
	if !long {
		extremum = st.lowestPrice
	}
	e.logger.Info().
		Str("position", pos.ID).
		Float64("old_stop", old).
		Float64("new_stop", candidate).
		Float64("extremum", extremum).
		Msg("Trailing stop moved")

	return &StopUpdate{PositionID: pos.ID, OldStop: old, NewStop: candidate}
}

// CurrentStop returns the engine's intended stop for a position.
func (e *TrailingStopEngine) CurrentStop(positionID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[positionID]
	if !ok {
		return 0, false
	}
	return st.currentStop, true
}

// IsActivated reports whether the trailing latch has fired.
func (e *TrailingStopEngine) IsActivated(positionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[positionID]
	return ok && st.isActivated
}

func (e *TrailingStopEngine) trailDistance(pos *Position, atr float64) float64 {
	switch e.cfg.Mode {
	case TrailATR:
		if atr > 0 && e.cfg.ATRMultiplier > 0 {
			return atr * e.cfg.ATRMultiplier
		}
		return pos.RiskPoints
	case TrailFixed:
		return e.cfg.FixedPoints
	default:
		return pos.RiskPoints
	}
}
