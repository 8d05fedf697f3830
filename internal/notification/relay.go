package notification

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/events"
)

// Relay subscribes to the engine event bus and translates typed events
// into notifications.
type Relay struct {
	manager *Manager
	logger  zerolog.Logger
}

func NewRelay(manager *Manager, logger zerolog.Logger) *Relay {
	return &Relay{
		manager: manager,
		logger:  logger.With().Str("component", "NotificationRelay").Logger(),
	}
}

// Run consumes envelopes until the channel closes.
func (r *Relay) Run(ch <-chan events.Envelope) {
	for env := range ch {
		n := r.translate(env)
		if n == nil {
			continue
		}
		if err := r.manager.Send(n); err != nil {
			r.logger.Warn().Err(err).Str("type", string(n.Type)).Msg("Notification delivery failed")
		}
	}
}

func (r *Relay) translate(env events.Envelope) *Notification {
	switch ev := env.Event.(type) {
	case events.PositionOpened:
		return &Notification{
			Type:  NotifyTradeOpen,
			Title: fmt.Sprintf("Position opened: %s", ev.Symbol),
			Message: fmt.Sprintf("%s %d @ %.2f\nStop: %.2f  Target: %.2f\nRisk: $%.2f",
				ev.Side, ev.Quantity, ev.EntryPrice, ev.StopLoss, ev.Target, ev.RiskAmount),
			Symbol:    ev.Symbol,
			Price:     ev.EntryPrice,
			Timestamp: env.Time,
		}

	case events.PartialProfit:
		return &Notification{
			Type:  NotifyTradeClose,
			Title: fmt.Sprintf("Partial profit: %s", ev.Symbol),
			Message: fmt.Sprintf("Closed %d @ %.2f for $%.2f, %d remaining",
				ev.Quantity, ev.Price, ev.PnL, ev.Remaining),
			Symbol:    ev.Symbol,
			Price:     ev.Price,
			PnL:       ev.PnL,
			Timestamp: env.Time,
		}

	case events.BreakEvenMoved:
		return &Notification{
			Type:      NotifyStopMoved,
			Title:     fmt.Sprintf("Break even: %s", ev.Symbol),
			Message:   fmt.Sprintf("Stop moved to %.2f", ev.NewStop),
			Symbol:    ev.Symbol,
			Timestamp: env.Time,
		}

	case events.PositionClosed:
		return &Notification{
			Type:  NotifyTradeClose,
			Title: fmt.Sprintf("Position closed: %s", ev.Symbol),
			Message: fmt.Sprintf("Exit @ %.2f\nP&L: $%.2f (%.2fR)\nReason: %s",
				ev.ExitPrice, ev.PnL, ev.RMultiple, ev.ExitReason),
			Symbol:    ev.Symbol,
			Price:     ev.ExitPrice,
			PnL:       ev.PnL,
			Timestamp: env.Time,
		}

	case events.TradingHalted:
		return &Notification{
			Type:      NotifyHalt,
			Title:     "Trading halted",
			Message:   fmt.Sprintf("%s: %s", ev.Reason, ev.Message),
			Timestamp: env.Time,
		}

	case events.TradingResumed:
		return &Notification{
			Type:      NotifyInfo,
			Title:     "Trading resumed",
			Message:   fmt.Sprintf("Previous halt: %s", ev.Previous),
			Timestamp: env.Time,
		}

	case events.ReconciliationMismatch:
		return &Notification{
			Type:  NotifyError,
			Title: "Reconciliation mismatch",
			Message: fmt.Sprintf("Untracked exchange position %s net %d, manual intervention required",
				ev.ContractID, ev.NetPos),
			Timestamp: env.Time,
		}

	case events.OrderFailed:
		return &Notification{
			Type:      NotifyError,
			Title:     fmt.Sprintf("Order failed: %s", ev.Symbol),
			Message:   fmt.Sprintf("%s (%s): %s", ev.ClientID, ev.State, ev.Message),
			Symbol:    ev.Symbol,
			Timestamp: env.Time,
		}
	}

	// stop updates are too chatty to notify on
	return nil
}
