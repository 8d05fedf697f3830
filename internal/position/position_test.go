package position

import (
	"testing"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/instrument"
)

var mes = instrument.Spec{Symbol: "MES", Name: "Micro E-mini S&P 500", TickSize: 0.25, TickValue: 1.25}

func newLong(qty int) *Position {
	return New("MES", exchange.SideBuy, 5000, 4990, 5020, qty, mes, "ENG-TEST")
}

func newShort(qty int) *Position {
	return New("MES", exchange.SideSell, 5000, 5010, 4980, qty, mes, "ENG-TEST")
}

func TestNewComputesRisk(t *testing.T) {
	p := newLong(4)
	if p.RiskPoints != 10 {
		t.Errorf("risk points = %.2f, want 10", p.RiskPoints)
	}
	// 10 points * 4 contracts * $5/point
	if p.RiskAmount != 200 {
		t.Errorf("risk amount = %.2f, want 200", p.RiskAmount)
	}

	s := newShort(4)
	if s.RiskPoints != 10 {
		t.Errorf("short risk points = %.2f, want 10", s.RiskPoints)
	}
}

func TestPnL(t *testing.T) {
	tests := []struct {
		name string
		pos  *Position
		exit float64
		qty  int
		want float64
	}{
		{"long winner", newLong(4), 5010, 4, 200},
		{"long loser", newLong(4), 4990, 4, -200},
		{"long partial qty", newLong(4), 5010, 2, 100},
		{"short winner", newShort(4), 4990, 4, 200},
		{"short loser", newShort(4), 5010, 4, -200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.PnL(tt.exit, tt.qty); got != tt.want {
				t.Errorf("PnL = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestRMultipleDenominatorFixedAtEntry(t *testing.T) {
	p := newLong(4)

	// a full loss at the stop is exactly -1R
	if r := p.RMultiple(p.PnL(4990, 4)); r != -1 {
		t.Errorf("loss R = %.2f, want -1", r)
	}
	// the denominator does not shrink after a partial
	p.Reduce(2)
	if r := p.RMultiple(200); r != 1 {
		t.Errorf("R after partial = %.2f, want 1", r)
	}
}

func TestUnrealizedR(t *testing.T) {
	p := newLong(4)
	if r := p.UnrealizedR(5010); r != 1 {
		t.Errorf("unrealized R at +10 = %.2f, want 1", r)
	}
	if r := p.UnrealizedR(4995); r != -0.5 {
		t.Errorf("unrealized R at -5 = %.2f, want -0.5", r)
	}

	s := newShort(4)
	if r := s.UnrealizedR(4990); r != 1 {
		t.Errorf("short unrealized R = %.2f, want 1", r)
	}
}

func TestReduceIsMonotonic(t *testing.T) {
	p := newLong(4)
	p.Reduce(2)
	if p.CurrentQuantity != 2 {
		t.Errorf("quantity = %d, want 2", p.CurrentQuantity)
	}
	p.Reduce(5) // clamped
	if p.CurrentQuantity != 0 {
		t.Errorf("quantity = %d, want 0", p.CurrentQuantity)
	}
	if p.Open() {
		t.Error("zero-quantity position still reports open")
	}
	if p.InitialQuantity != 4 {
		t.Errorf("initial quantity mutated: %d", p.InitialQuantity)
	}
}
