package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HaltReason identifies why the governor halted trading.
type HaltReason string

const (
	HaltNone              HaltReason = ""
	HaltDrawdown          HaltReason = "MAX_DRAWDOWN"
	HaltDailyLoss         HaltReason = "DAILY_LOSS_LIMIT"
	HaltWeeklyLoss        HaltReason = "WEEKLY_LOSS_LIMIT"
	HaltConsecutiveLosses HaltReason = "CONSECUTIVE_LOSSES"
	HaltManual            HaltReason = "MANUAL"
)

// autoClears reports whether the halt clears on its own when the
// triggering period rolls over. Consecutive-loss, drawdown and manual
// halts are sticky until an explicit Resume.
func (r HaltReason) autoClears() bool {
	return r == HaltDailyLoss || r == HaltWeeklyLoss
}

// GovernorConfig is the frozen loss-limit configuration.
type GovernorConfig struct {
	DailyLossLimit       float64 `json:"daily_loss_limit"`       // dollars, positive
	WeeklyLossLimit      float64 `json:"weekly_loss_limit"`      // dollars, positive
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDrawdownPercent   float64 `json:"max_drawdown_percent"`
}

// State is the governor's persisted snapshot. The daily and weekly reset
// logic depends on exact round-tripping of the date and week strings, so
// the schema must stay stable across restarts.
type State struct {
	DailyPnL               float64    `json:"daily_pnl"`
	WeeklyPnL              float64    `json:"weekly_pnl"`
	TradesToday            int        `json:"trades_today"`
	ConsecutiveLosses      int        `json:"consecutive_losses"`
	PeakEquity             float64    `json:"peak_equity"`
	CurrentEquity          float64    `json:"current_equity"`
	CurrentDrawdownPercent float64    `json:"current_drawdown_percent"`
	IsHalted               bool       `json:"is_halted"`
	HaltReason             HaltReason `json:"halt_reason"`
	HaltMessage            string     `json:"halt_message"`
	LastTradeDate          string     `json:"last_trade_date"` // "2006-01-02"
	LastTradeWeek          string     `json:"last_trade_week"` // "2006-W01" (ISO week)
	UpdatedAt              time.Time  `json:"updated_at"`
}

// StateStore persists governor state. Every mutation is written through
// synchronously so a restarted process resumes with current counters.
type StateStore interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context) (*State, error)
}

// HaltEvent is delivered to the halt callback when trading halts.
type HaltEvent struct {
	Reason  HaltReason
	Message string
}

// LossGovernor gates whether new trades may be opened and can
// unilaterally halt trading. It owns persisted, calendar-aware counters:
// daily and weekly P&L, consecutive losses and equity drawdown.
type LossGovernor struct {
	cfg    GovernorConfig
	state  State
	store  StateStore
	logger zerolog.Logger
	now    func() time.Time
	onHalt func(HaltEvent)
}

// NewLossGovernor creates a governor, reloading persisted state and
// applying the day/week rollover immediately so a process restarted on a
// new calendar day does not carry over a stale daily-limit halt.
func NewLossGovernor(cfg GovernorConfig, store StateStore, logger zerolog.Logger) (*LossGovernor, error) {
	g := &LossGovernor{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "LossGovernor").Logger(),
		now:    time.Now,
	}

	if store != nil {
		saved, err := store.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load governor state: %w", err)
		}
		if saved != nil {
			g.state = *saved
		}
	}

	g.rollCounters(g.now())
	g.persist()

	g.logger.Info().
		Float64("daily_pnl", g.state.DailyPnL).
		Float64("weekly_pnl", g.state.WeeklyPnL).
		Int("consecutive_losses", g.state.ConsecutiveLosses).
		Bool("halted", g.state.IsHalted).
		Str("halt_reason", string(g.state.HaltReason)).
		Msg("Loss governor initialized")
	return g, nil
}

// OnHalt registers the callback invoked whenever a halt triggers.
func (g *LossGovernor) OnHalt(cb func(HaltEvent)) {
	g.onHalt = cb
}

// SetClock overrides the time source. Used by tests to drive rollovers.
func (g *LossGovernor) SetClock(now func() time.Time) {
	g.now = now
}

// CanTrade reports whether a new trade may be opened. Period rollovers
// are applied first, so a daily or weekly limit halt clears itself once
// the stored date or week string no longer matches the clock.
//
// All callers are expected to be serialized by the coordinator's event
// loop; the governor itself holds no lock.
func (g *LossGovernor) CanTrade() (bool, string) {
	if g.rollCounters(g.now()) {
		g.persist()
	}

	if g.state.IsHalted {
		return false, fmt.Sprintf("trading halted (%s): %s", g.state.HaltReason, g.state.HaltMessage)
	}
	return true, ""
}

// RecordTrade applies a closed trade's realized P&L to the counters and
// evaluates the halt conditions in fixed order: drawdown, daily loss,
// weekly loss, consecutive losses. The first matching condition wins.
func (g *LossGovernor) RecordTrade(pnl float64) State {
	g.rollCounters(g.now())

	g.state.DailyPnL += pnl
	g.state.WeeklyPnL += pnl
	g.state.TradesToday++
	if pnl < 0 {
		g.state.ConsecutiveLosses++
	} else {
		g.state.ConsecutiveLosses = 0
	}

	g.logger.Info().
		Float64("pnl", pnl).
		Float64("daily_pnl", g.state.DailyPnL).
		Float64("weekly_pnl", g.state.WeeklyPnL).
		Int("consecutive_losses", g.state.ConsecutiveLosses).
		Msg("Trade recorded")

	switch {
	case g.cfg.MaxDrawdownPercent > 0 && g.state.CurrentDrawdownPercent >= g.cfg.MaxDrawdownPercent:
		g.halt(HaltDrawdown, fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%",
			g.state.CurrentDrawdownPercent, g.cfg.MaxDrawdownPercent))
	case g.cfg.DailyLossLimit > 0 && g.state.DailyPnL <= -g.cfg.DailyLossLimit:
		g.halt(HaltDailyLoss, fmt.Sprintf("daily loss $%.2f reached limit $%.2f",
			-g.state.DailyPnL, g.cfg.DailyLossLimit))
	case g.cfg.WeeklyLossLimit > 0 && g.state.WeeklyPnL <= -g.cfg.WeeklyLossLimit:
		g.halt(HaltWeeklyLoss, fmt.Sprintf("weekly loss $%.2f reached limit $%.2f",
			-g.state.WeeklyPnL, g.cfg.WeeklyLossLimit))
	case g.cfg.MaxConsecutiveLosses > 0 && g.state.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses:
		g.halt(HaltConsecutiveLosses, fmt.Sprintf("%d consecutive losing trades (limit %d)",
			g.state.ConsecutiveLosses, g.cfg.MaxConsecutiveLosses))
	}

	g.persist()
	return g.state
}

// UpdateEquity recomputes drawdown against the running equity peak and
// independently triggers a drawdown halt. The peak is raised before the
// drawdown is computed so a new high always reads as zero drawdown.
func (g *LossGovernor) UpdateEquity(current float64) {
	g.state.CurrentEquity = current
	if current > g.state.PeakEquity {
		g.state.PeakEquity = current
	}
	if g.state.PeakEquity > 0 {
		g.state.CurrentDrawdownPercent = (g.state.PeakEquity - current) / g.state.PeakEquity * 100
	}

	if g.cfg.MaxDrawdownPercent > 0 && g.state.CurrentDrawdownPercent >= g.cfg.MaxDrawdownPercent {
		g.halt(HaltDrawdown, fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%",
			g.state.CurrentDrawdownPercent, g.cfg.MaxDrawdownPercent))
	}

	g.persist()
}

// Halt stops trading with the given reason. Idempotent when the governor
// is already halted for the same reason.
func (g *LossGovernor) Halt(reason HaltReason, message string) {
	g.halt(reason, message)
	g.persist()
}

// Resume clears any halt. Required for consecutive-loss, drawdown and
// manual halts, which never auto-clear.
func (g *LossGovernor) Resume() {
	if !g.state.IsHalted {
		return
	}
	g.logger.Info().Str("was", string(g.state.HaltReason)).Msg("Trading resumed")
	g.state.IsHalted = false
	g.state.HaltReason = HaltNone
	g.state.HaltMessage = ""
	g.persist()
}

// Snapshot returns a copy of the current state.
func (g *LossGovernor) Snapshot() State {
	return g.state
}

func (g *LossGovernor) halt(reason HaltReason, message string) {
	if g.state.IsHalted && g.state.HaltReason == reason {
		return
	}

	g.state.IsHalted = true
	g.state.HaltReason = reason
	g.state.HaltMessage = message

	g.logger.Warn().
		Str("reason", string(reason)).
		Str("message", message).
		Msg("TRADING HALTED")

	if g.onHalt != nil {
		g.onHalt(HaltEvent{Reason: reason, Message: message})
	}
}

// rollCounters resets the daily and weekly counters when the stored date
// or ISO-week string no longer matches the clock. Comparison is by
// string, not wall-clock duration, so a restart on a new day still
// resets. Returns true when anything changed.
func (g *LossGovernor) rollCounters(now time.Time) bool {
	changed := false

	date := now.Format("2006-01-02")
	if g.state.LastTradeDate != date {
		g.state.DailyPnL = 0
		g.state.TradesToday = 0
		g.state.LastTradeDate = date
		if g.state.IsHalted && g.state.HaltReason == HaltDailyLoss {
			g.state.IsHalted = false
			g.state.HaltReason = HaltNone
			g.state.HaltMessage = ""
			g.logger.Info().Msg("Daily loss halt cleared by day rollover")
		}
		changed = true
	}

	year, week := now.ISOWeek()
	weekStr := fmt.Sprintf("%d-W%02d", year, week)
	if g.state.LastTradeWeek != weekStr {
		g.state.WeeklyPnL = 0
		g.state.LastTradeWeek = weekStr
		if g.state.IsHalted && g.state.HaltReason == HaltWeeklyLoss {
			g.state.IsHalted = false
			g.state.HaltReason = HaltNone
			g.state.HaltMessage = ""
			g.logger.Info().Msg("Weekly loss halt cleared by week rollover")
		}
		changed = true
	}

	return changed
}

func (g *LossGovernor) persist() {
	if g.store == nil {
		return
	}
	g.state.UpdatedAt = g.now()
	snapshot := g.state
	if err := g.store.Save(context.Background(), &snapshot); err != nil {
		g.logger.Error().Err(err).Msg("Failed to persist governor state")
	}
}
