package risk

import (
	"math"
	"testing"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/instrument"
)

var mes = instrument.Spec{Symbol: "MES", Name: "Micro E-mini S&P 500", TickSize: 0.25, TickValue: 1.25}

func TestSize(t *testing.T) {
	cfg := SizerConfig{Bounds: RiskBounds{Min: 50, Max: 250}, ProfitTargetR: 2}

	tests := []struct {
		name          string
		entry, stop   float64
		side          exchange.Side
		wantContracts int
		wantRiskPerCt float64
		wantTotalRisk float64
		wantTarget    float64
		wantReject    RejectReason
	}{
		{
			name:  "long ten point stop",
			entry: 5000, stop: 4990, side: exchange.SideBuy,
			wantContracts: 5,
			wantRiskPerCt: 50,
			wantTotalRisk: 250,
			wantTarget:    5020,
		},
		{
			name:  "short mirrors long",
			entry: 5000, stop: 5010, side: exchange.SideSell,
			wantContracts: 5,
			wantRiskPerCt: 50,
			wantTotalRisk: 250,
			wantTarget:    4980,
		},
		{
			name:  "stop wider than max risk",
			entry: 5000, stop: 4940, side: exchange.SideBuy,
			wantReject: RejectStopTooWide,
		},
		{
			name:  "zero stop distance",
			entry: 5000, stop: 5000, side: exchange.SideBuy,
			wantReject: RejectInvalidStopDistance,
		},
		{
			name:  "nan entry",
			entry: math.NaN(), stop: 4990, side: exchange.SideBuy,
			wantReject: RejectInvalidStopDistance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, rej := Size(tt.entry, tt.stop, tt.side, mes, cfg)

			if tt.wantReject != "" {
				if rej == nil {
					t.Fatalf("expected rejection %s, got result %+v", tt.wantReject, res)
				}
				if rej.Reason != tt.wantReject {
					t.Errorf("reason = %s, want %s", rej.Reason, tt.wantReject)
				}
				return
			}

			if rej != nil {
				t.Fatalf("unexpected rejection: %v", rej)
			}
			if res.Contracts != tt.wantContracts {
				t.Errorf("contracts = %d, want %d", res.Contracts, tt.wantContracts)
			}
			if res.RiskPerContract != tt.wantRiskPerCt {
				t.Errorf("risk per contract = %.2f, want %.2f", res.RiskPerContract, tt.wantRiskPerCt)
			}
			if res.TotalRisk != tt.wantTotalRisk {
				t.Errorf("total risk = %.2f, want %.2f", res.TotalRisk, tt.wantTotalRisk)
			}
			if res.TargetPrice != tt.wantTarget {
				t.Errorf("target = %.2f, want %.2f", res.TargetPrice, tt.wantTarget)
			}
		})
	}
}

func TestSizeNeverExceedsMaxRisk(t *testing.T) {
	cfg := SizerConfig{Bounds: RiskBounds{Min: 10, Max: 250}, ProfitTargetR: 2}

	for stop := 4999.75; stop > 4950; stop -= 0.25 {
		res, rej := Size(5000, stop, exchange.SideBuy, mes, cfg)
		if rej != nil {
			continue
		}
		if res.TotalRisk > cfg.Bounds.Max {
			t.Fatalf("stop %.2f: total risk %.2f exceeds max %.2f", stop, res.TotalRisk, cfg.Bounds.Max)
		}
		if res.Contracts < 1 {
			t.Fatalf("stop %.2f: sized zero contracts without rejection", stop)
		}
	}
}

func TestValidateMinimumRisk(t *testing.T) {
	cfg := SizerConfig{Bounds: RiskBounds{Min: 100, Max: 250}, ProfitTargetR: 2}

	// 15-point stop on MES is $75/contract, 3 contracts = $225
	res, rej := Size(5000, 4985, exchange.SideBuy, mes, cfg)
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if v := Validate(res, cfg); v != nil {
		t.Fatalf("unexpected policy rejection: %v", v)
	}

	// shrink the result below the floor
	res.TotalRisk = 75
	v := Validate(res, cfg)
	if v == nil {
		t.Fatal("expected a minimum-risk rejection")
	}
	if v.Reason != RejectRiskBelowMinimum {
		t.Errorf("reason = %s, want %s", v.Reason, RejectRiskBelowMinimum)
	}
}
