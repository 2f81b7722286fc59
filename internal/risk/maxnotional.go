package risk

import (
	"fmt"

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Rule = (*MaxNotionalRule)(nil)

// MaxNotionalRule caps the post-trade notional exposure per symbol. Exposure
// above the hard cap locks the order; exposure above the warn threshold
// (cap × WarnRatio) raises a recorded alert.
type MaxNotionalRule struct {
	// SymbolCaps are explicit per-symbol caps, taking precedence over the
	// default cap.
	SymbolCaps map[string]float64
	// DefaultCap supplies the cap for symbols without an explicit entry. It
	// is a function so runtime state updates (PUT /state) take effect
	// without rebuilding the engine. A nil func or zero cap disables the
	// check for uncapped symbols.
	DefaultCap func() float64
	// WarnRatio is the alert threshold as a fraction of the cap
	// (e.g. 0.8). Zero disables alerts.
	WarnRatio float64
}

// Name returns "max_notional".
func (r *MaxNotionalRule) Name() string {
	return "max_notional"
}

// Evaluate computes the account's post-trade exposure for the intent's
// symbol and compares it against the cap.
func (r *MaxNotionalRule) Evaluate(in Input) *domain.RiskSignal {
	limit := r.capFor(in.Intent.Symbol)
	if limit <= 0 {
		return nil
	}

	current := in.State.Exposure[in.Intent.Symbol]
	delta := in.Notional()
	if in.Intent.Side == domain.OrderSideSell {
		delta = -delta
	}
	post := current + delta
	magnitude := post
	if magnitude < 0 {
		magnitude = -magnitude
	}

	if magnitude > limit {
		return &domain.RiskSignal{
			Severity: domain.SeverityLock,
			Symbol:   in.Intent.Symbol,
			Reason: fmt.Sprintf("post-trade notional %.2f for %s exceeds cap %.2f",
				magnitude, in.Intent.Symbol, limit),
		}
	}
	if r.WarnRatio > 0 && magnitude > limit*r.WarnRatio {
		return &domain.RiskSignal{
			Severity: domain.SeverityAlert,
			Symbol:   in.Intent.Symbol,
			Reason: fmt.Sprintf("post-trade notional %.2f for %s above %.0f%% of cap %.2f",
				magnitude, in.Intent.Symbol, r.WarnRatio*100, limit),
		}
	}
	return nil
}

func (r *MaxNotionalRule) capFor(symbol string) float64 {
	if limit, ok := r.SymbolCaps[symbol]; ok {
		return limit
	}
	if r.DefaultCap != nil {
		return r.DefaultCap()
	}
	return 0
}
