package position

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func profitEngine(cfg ProfitConfig) *ProfitEngine {
	return NewProfitEngine(cfg, zerolog.Nop())
}

func actionsOfType(actions []Action, typ ActionType) []Action {
	var out []Action
	for _, a := range actions {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestPartialExitFiresOnce(t *testing.T) {
	e := profitEngine(ProfitConfig{PartialR: 1, PartialPercent: 50})

	pos := newLong(4)
	e.Track(pos)

	// partial target is entry + 1R = 5010
	if got := e.Evaluate(pos, 5005); len(got) != 0 {
		t.Fatalf("actions below the partial target: %+v", got)
	}

	actions := e.Evaluate(pos, 5010)
	partials := actionsOfType(actions, ActionPartialExit)
	if len(partials) != 1 {
		t.Fatalf("partial actions = %d, want 1", len(partials))
	}
	if partials[0].Quantity != 2 {
		t.Errorf("partial quantity = %d, want 2", partials[0].Quantity)
	}
	// 10 points * 2 contracts * $5/point
	if partials[0].PnL != 100 {
		t.Errorf("partial pnl = %.2f, want 100", partials[0].PnL)
	}
	if pos.CurrentQuantity != 2 {
		t.Errorf("remaining quantity = %d, want 2", pos.CurrentQuantity)
	}
	if pos.RealizedPnL != 100 {
		t.Errorf("realized pnl = %.2f, want 100", pos.RealizedPnL)
	}

	// second touch must not fire again
	actions = e.Evaluate(pos, 5011)
	if got := actionsOfType(actions, ActionPartialExit); len(got) != 0 {
		t.Fatalf("partial fired twice: %+v", got)
	}
	if pos.CurrentQuantity != 2 {
		t.Errorf("second touch changed quantity: %d", pos.CurrentQuantity)
	}
}

func TestPartialSkippedWhenFloorIsZero(t *testing.T) {
	e := profitEngine(ProfitConfig{PartialR: 1, PartialPercent: 40})

	pos := newLong(1) // floor(1 * 0.40) = 0
	e.Track(pos)

	actions := e.Evaluate(pos, 5010)
	if got := actionsOfType(actions, ActionPartialExit); len(got) != 0 {
		t.Fatalf("zero-contract partial fired: %+v", got)
	}
	if pos.CurrentQuantity != 1 {
		t.Errorf("quantity changed: %d", pos.CurrentQuantity)
	}
}

func TestBreakEvenMovesOnce(t *testing.T) {
	e := profitEngine(ProfitConfig{BreakEvenTriggerR: 1, BreakEvenOffset: 0.25})

	pos := newLong(4)
	e.Track(pos)

	if got := e.Evaluate(pos, 5005); len(got) != 0 {
		t.Fatalf("actions below the break-even trigger: %+v", got)
	}

	actions := e.Evaluate(pos, 5010)
	moves := actionsOfType(actions, ActionBreakEven)
	if len(moves) != 1 {
		t.Fatalf("break-even actions = %d, want 1", len(moves))
	}
	if moves[0].NewStop != 5000.25 {
		t.Errorf("break-even stop = %.2f, want 5000.25", moves[0].NewStop)
	}
	if pos.StopLoss != 5000.25 {
		t.Errorf("position stop = %.2f", pos.StopLoss)
	}
	if !pos.BreakEvenMoved {
		t.Error("BreakEvenMoved flag not set")
	}

	actions = e.Evaluate(pos, 5012)
	if got := actionsOfType(actions, ActionBreakEven); len(got) != 0 {
		t.Fatalf("break-even fired twice: %+v", got)
	}
}

func TestBreakEvenNeverLoosensTighterStop(t *testing.T) {
	e := profitEngine(ProfitConfig{BreakEvenTriggerR: 1, BreakEvenOffset: 0.25})

	pos := newLong(4)
	pos.StopLoss = 5005 // trailing already moved past break even
	e.Track(pos)

	actions := e.Evaluate(pos, 5010)
	if got := actionsOfType(actions, ActionBreakEven); len(got) != 0 {
		t.Fatalf("break even loosened a tighter stop: %+v", got)
	}
	if !pos.BreakEvenMoved {
		t.Error("trigger should still consume the one-shot flag")
	}
	if pos.StopLoss != 5005 {
		t.Errorf("stop changed: %.2f", pos.StopLoss)
	}
}

func TestTimeExitByBars(t *testing.T) {
	e := profitEngine(ProfitConfig{MaxBarsInTrade: 3})

	pos := newLong(2)
	e.Track(pos)

	pos.BarsInTrade = 2
	if got := e.Evaluate(pos, 5001); len(got) != 0 {
		t.Fatalf("early time exit: %+v", got)
	}

	pos.BarsInTrade = 3
	actions := e.Evaluate(pos, 5001)
	exits := actionsOfType(actions, ActionTimeExit)
	if len(exits) != 1 {
		t.Fatalf("time exits = %d, want 1", len(exits))
	}
	if exits[0].Quantity != 2 {
		t.Errorf("exit quantity = %d, want 2", exits[0].Quantity)
	}
	if pos.Open() {
		t.Error("position still open after time exit")
	}
}

func TestTimeExitByClock(t *testing.T) {
	e := profitEngine(ProfitConfig{MaxTimeInTrade: time.Hour})

	pos := newLong(2)
	e.Track(pos)

	now := pos.EntryTime.Add(30 * time.Minute)
	e.SetClock(func() time.Time { return now })
	if got := e.Evaluate(pos, 5001); len(got) != 0 {
		t.Fatalf("early clock exit: %+v", got)
	}

	now = pos.EntryTime.Add(2 * time.Hour)
	actions := e.Evaluate(pos, 5001)
	if got := actionsOfType(actions, ActionTimeExit); len(got) != 1 {
		t.Fatalf("clock exits = %+v, want 1 time exit", actions)
	}
}

func TestStopAndTargetHits(t *testing.T) {
	tests := []struct {
		name  string
		pos   *Position
		price float64
		want  ActionType
		pnl   float64
	}{
		{"long stop", newLong(2), 4990, ActionStopHit, -100},
		{"long target", newLong(2), 5020, ActionTargetHit, 200},
		{"short stop", newShort(2), 5010, ActionStopHit, -100},
		{"short target", newShort(2), 4980, ActionTargetHit, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := profitEngine(ProfitConfig{})
			e.Track(tt.pos)

			actions := e.Evaluate(tt.pos, tt.price)
			hits := actionsOfType(actions, tt.want)
			if len(hits) != 1 {
				t.Fatalf("actions = %+v, want one %s", actions, tt.want)
			}
			if hits[0].PnL != tt.pnl {
				t.Errorf("pnl = %.2f, want %.2f", hits[0].PnL, tt.pnl)
			}
			if tt.pos.Open() {
				t.Error("position still open after full exit")
			}
		})
	}
}

func TestPartialThenTargetOnSameTick(t *testing.T) {
	e := profitEngine(ProfitConfig{PartialR: 1, PartialPercent: 50})

	pos := newLong(4)
	e.Track(pos)

	// one tick gaps through both the partial level and the target
	actions := e.Evaluate(pos, 5020)
	partials := actionsOfType(actions, ActionPartialExit)
	targets := actionsOfType(actions, ActionTargetHit)
	if len(partials) != 1 || len(targets) != 1 {
		t.Fatalf("actions = %+v, want one partial then one target", actions)
	}
	// target exit sees the quantity the partial already removed
	if targets[0].Quantity != 2 {
		t.Errorf("target quantity = %d, want 2", targets[0].Quantity)
	}
	if pos.Open() {
		t.Error("position still open")
	}
}

func TestEvaluateUntrackedPosition(t *testing.T) {
	e := profitEngine(ProfitConfig{PartialR: 1, PartialPercent: 50})
	pos := newLong(4)

	if got := e.Evaluate(pos, 5020); got != nil {
		t.Errorf("untracked evaluate returned %+v", got)
	}
}
