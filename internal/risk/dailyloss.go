package risk

import (
	"fmt"

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Rule = (*DailyLossRule)(nil)

// DailyLossRule locks submissions when the account's daily realized plus
// unrealized PnL is at or below the negative stop-loss threshold. Caller
// risk overrides take precedence over persisted state for the evaluation;
// counters reset at the daily boundary independently of order flow.
type DailyLossRule struct {
	// DefaultStopLoss applies when neither the account state nor the intent
	// overrides carry a threshold. Zero disables the check in that case.
	DefaultStopLoss float64
}

// Name returns "daily_loss".
func (r *DailyLossRule) Name() string {
	return "daily_loss"
}

// Evaluate sums realized and unrealized PnL and compares against the
// stop-loss threshold.
func (r *DailyLossRule) Evaluate(in Input) *domain.RiskSignal {
	realized := in.State.RealizedPnL
	unrealized := in.State.UnrealizedPnL
	stopLoss := in.State.StopLoss

	if ov := in.Intent.RiskOverrides; ov != nil {
		if ov.RealizedPnL != nil {
			realized = *ov.RealizedPnL
		}
		if ov.UnrealizedPnL != nil {
			unrealized = *ov.UnrealizedPnL
		}
		if ov.StopLoss != nil {
			stopLoss = *ov.StopLoss
		}
	}
	if stopLoss == 0 {
		stopLoss = r.DefaultStopLoss
	}
	if stopLoss <= 0 {
		return nil
	}

	total := realized + unrealized
	if total <= -stopLoss {
		return &domain.RiskSignal{
			Severity: domain.SeverityLock,
			Symbol:   in.Intent.Symbol,
			Reason: fmt.Sprintf("daily PnL %.2f breaches stop-loss threshold -%.2f",
				total, stopLoss),
		}
	}
	return nil
}
