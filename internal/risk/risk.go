// Package risk implements the sequential pre-trade risk rule engine. Rules
// are pure functions of the account's current risk state and the proposed
// intent; state mutation happens only after the full chain admits the order.
package risk

import (
	"time"

	"tradegate/internal/domain"
)

// Input is everything a rule may consult for one evaluation.
type Input struct {
	State *domain.AccountRiskState
	// Intent is the proposed order, including any caller risk overrides.
	Intent *domain.ExecutionIntent
	// RefPrice is the market price used to compute notional exposure for
	// market orders; limit orders use their limit price.
	RefPrice float64
	Now      time.Time
}

// Notional returns the proposed order's exposure in quote currency.
func (in Input) Notional() float64 {
	return in.Intent.Notional(in.RefPrice)
}

// Rule evaluates one risk constraint. A nil return means the rule has
// nothing to say about this order.
type Rule interface {
	Name() string
	Evaluate(in Input) *domain.RiskSignal
}

// Result is the outcome of a full chain evaluation.
type Result struct {
	// Lock is the first blocking signal encountered, if any. It terminates
	// evaluation and becomes the rejection reason.
	Lock *domain.RiskSignal
	// Alerts are all non-blocking signals collected along the way.
	Alerts []domain.RiskSignal
}

// Admitted reports whether the order may proceed to the venue.
func (r Result) Admitted() bool {
	return r.Lock == nil
}

// Engine runs an ordered rule chain. Evaluation order is fixed per
// deployment and significant: the first lock stops evaluation.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine evaluating rules in the given order.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Rules returns the configured rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate runs the chain against the input. Alerts accumulate; the first
// lock short-circuits.
func (e *Engine) Evaluate(in Input) Result {
	var res Result
	for _, rule := range e.rules {
		signal := rule.Evaluate(in)
		if signal == nil {
			continue
		}
		signal.Rule = rule.Name()
		signal.AccountID = in.Intent.AccountID
		if signal.CreatedAt.IsZero() {
			signal.CreatedAt = in.Now
		}
		if signal.Severity == domain.SeverityLock {
			res.Lock = signal
			return res
		}
		res.Alerts = append(res.Alerts, *signal)
	}
	return res
}
