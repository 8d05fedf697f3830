// Package risk handles position sizing and portfolio-level loss
// governance.
package risk

import (
	"fmt"
	"math"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/instrument"
)

// RejectReason identifies why a signal could not be sized.
type RejectReason string

const (
	RejectInvalidStopDistance RejectReason = "INVALID_STOP_DISTANCE"
	RejectStopTooWide         RejectReason = "STOP_TOO_WIDE"
	RejectRiskBelowMinimum    RejectReason = "RISK_BELOW_MINIMUM"
)

// Rejection is a structured sizing rejection. It is returned as a value,
// never raised; a rejected signal is simply not executed.
type Rejection struct {
	Reason  RejectReason
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// RiskBounds is the per-trade dollar risk window.
type RiskBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SizerConfig is the frozen sizing configuration.
type SizerConfig struct {
	Bounds        RiskBounds `json:"bounds"`
	ProfitTargetR float64    `json:"profit_target_r"` // target distance as a multiple of risk
}

// SizeResult is the outcome of successful sizing.
type SizeResult struct {
	Contracts       int     `json:"contracts"`
	RiskPerContract float64 `json:"risk_per_contract"` // dollars
	TotalRisk       float64 `json:"total_risk"`        // dollars
	TargetPrice     float64 `json:"target_price"`
}

// Size computes the contract count for a signal under the configured
// dollar-risk bounds. Risk per contract converts the stop distance to
// currency through the instrument's tick convention:
//
//	riskPerContract = (|entry - stop| / tickSize) * tickValue
//
// A stop so wide that even one contract exceeds Bounds.Max is rejected
// outright rather than silently rounded to zero contracts.
func Size(entry, stop float64, side exchange.Side, spec instrument.Spec, cfg SizerConfig) (*SizeResult, *Rejection) {
	priceRisk := math.Abs(entry - stop)

	var riskPerContract float64
	if spec.TickSize > 0 {
		riskPerContract = (priceRisk / spec.TickSize) * spec.TickValue
	}

	if riskPerContract <= 0 || math.IsNaN(riskPerContract) || math.IsInf(riskPerContract, 0) {
		return nil, &Rejection{
			Reason:  RejectInvalidStopDistance,
			Message: fmt.Sprintf("stop %.4f gives unusable risk per contract (entry %.4f)", stop, entry),
		}
	}

	if riskPerContract > cfg.Bounds.Max {
		return nil, &Rejection{
			Reason: RejectStopTooWide,
			Message: fmt.Sprintf("risk per contract $%.2f exceeds max risk $%.2f, even one contract is too large",
				riskPerContract, cfg.Bounds.Max),
		}
	}

	contracts := int(math.Floor(cfg.Bounds.Max / riskPerContract))
	if contracts < 1 {
		contracts = 1
	}

	targetPrice := entry + priceRisk*cfg.ProfitTargetR
	if side == exchange.SideSell {
		targetPrice = entry - priceRisk*cfg.ProfitTargetR
	}

	return &SizeResult{
		Contracts:       contracts,
		RiskPerContract: riskPerContract,
		TotalRisk:       float64(contracts) * riskPerContract,
		TargetPrice:     spec.RoundToTick(targetPrice),
	}, nil
}

// Validate applies business policy to a sizing result. A total risk
// below the configured floor means the stop is too tight to satisfy the
// minimum risk commitment; it is a policy rejection, distinct from the
// sizing failures Size returns.
func Validate(res *SizeResult, cfg SizerConfig) *Rejection {
	if res.TotalRisk < cfg.Bounds.Min {
		return &Rejection{
			Reason: RejectRiskBelowMinimum,
			Message: fmt.Sprintf("total risk $%.2f is below the minimum risk floor $%.2f",
				res.TotalRisk, cfg.Bounds.Min),
		}
	}
	return nil
}
