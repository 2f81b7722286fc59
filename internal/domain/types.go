// Package domain holds the core types shared across the order-routing
// service: execution intents and reports, fills, risk signals, per-account
// risk state, and ledger records.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceDay TimeInForce = "day"
)

// OrderStatus is the lifecycle state of an order as reported to callers.
type OrderStatus string

const (
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether the status permits no further fills or
// cancellation.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// LedgerStatus values track the internal routing pipeline in the order's
// append-only status history. They are a superset of the caller-visible
// OrderStatus values.
const (
	LedgerStatusPending        = "pending"
	LedgerStatusRiskChecked    = "risk_checked"
	LedgerStatusLockedRejected = "locked_rejected"
	LedgerStatusSubmitted      = "submitted"
	LedgerStatusAdapterFailed  = "adapter_failed"
	LedgerStatusReconcile      = "needs_reconciliation"
)

// RiskOverrides carries caller-supplied risk context for a single
// evaluation. Nil pointer fields fall back to the account's persisted state.
type RiskOverrides struct {
	AccountID     string   `json:"account_id,omitempty"`
	RealizedPnL   *float64 `json:"realized_pnl,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
	StopLoss      *float64 `json:"stop_loss,omitempty"`
}

// ExecutionIntent is a requested order. It is immutable once accepted.
type ExecutionIntent struct {
	Venue          string         `json:"venue"`
	Symbol         string         `json:"symbol"`
	Side           OrderSide      `json:"side"`
	Quantity       float64        `json:"quantity"`
	OrderType      OrderType      `json:"order_type"`
	Price          float64        `json:"price,omitempty"`
	TimeInForce    TimeInForce    `json:"time_in_force,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	AccountID      string         `json:"account_id"`
	StrategyID     string         `json:"strategy_id,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	RiskOverrides  *RiskOverrides `json:"risk_overrides,omitempty"`
}

// Notional returns the quote-currency exposure of the intent using the limit
// price, or the given reference price for market orders.
func (in *ExecutionIntent) Notional(refPrice float64) float64 {
	price := in.Price
	if in.OrderType == OrderTypeMarket || price == 0 {
		price = refPrice
	}
	return price * in.Quantity
}

// Validate rejects malformed intents before any side effect. Venue existence
// is checked separately against the adapter registry.
func (in *ExecutionIntent) Validate() error {
	if in.Symbol == "" || !validSymbol(in.Symbol) {
		return fmt.Errorf("invalid symbol %q", in.Symbol)
	}
	if in.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", in.Quantity)
	}
	switch in.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		return fmt.Errorf("invalid side %q", in.Side)
	}
	switch in.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if in.Price <= 0 {
			return fmt.Errorf("limit orders require a positive price, got %v", in.Price)
		}
	default:
		return fmt.Errorf("invalid order type %q", in.OrderType)
	}
	switch in.TimeInForce {
	case "", TimeInForceGTC, TimeInForceIOC, TimeInForceDay:
	default:
		return fmt.Errorf("invalid time in force %q", in.TimeInForce)
	}
	return nil
}

// EffectiveTIF returns the time-in-force with the GTC default applied.
func (in *ExecutionIntent) EffectiveTIF() TimeInForce {
	if in.TimeInForce == "" {
		return TimeInForceGTC
	}
	return in.TimeInForce
}

// validSymbol accepts uppercase alphanumeric tickers such as "AAPL" or
// "BTCUSDT", with optional "/" or "-" pair separators.
func validSymbol(s string) bool {
	if len(s) < 1 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '/' || r == '-':
		default:
			return false
		}
	}
	return !strings.HasPrefix(s, "/") && !strings.HasSuffix(s, "/")
}

// Fill is a single execution step. Fills are append-only; the sum of fill
// quantities never exceeds the order's requested quantity.
type Fill struct {
	ID        string    `json:"id,omitempty"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionReport is the authoritative outcome of an order. It is created on
// acceptance, mutated only by fill/cancel events, and immutable once the
// status is terminal.
type ExecutionReport struct {
	OrderID        string      `json:"order_id"`
	Venue          string      `json:"venue"`
	AccountID      string      `json:"account_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	OrderType      OrderType   `json:"order_type"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	Status         OrderStatus `json:"status"`
	Quantity       float64     `json:"quantity"`
	Price          float64     `json:"price,omitempty"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgPrice       float64     `json:"avg_price,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	Fills          []Fill      `json:"fills,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

// ApplyFill appends a fill and recomputes filled quantity, the
// quantity-weighted average price, and the status. It returns an error if
// the report is already terminal or the fill would exceed the requested
// quantity.
func (r *ExecutionReport) ApplyFill(f Fill) error {
	if r.Status.Terminal() {
		return fmt.Errorf("order %s is %s, no further fills", r.OrderID, r.Status)
	}
	if f.Quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %v", f.Quantity)
	}
	const epsilon = 1e-9
	if r.FilledQuantity+f.Quantity > r.Quantity+epsilon {
		return fmt.Errorf("fill of %v would exceed requested quantity %v (already filled %v)",
			f.Quantity, r.Quantity, r.FilledQuantity)
	}
	r.Fills = append(r.Fills, f)
	r.recompute()
	return nil
}

// Clone returns a deep copy whose fill and tag slices are detached from the
// receiver.
func (r *ExecutionReport) Clone() *ExecutionReport {
	out := *r
	out.Fills = append([]Fill(nil), r.Fills...)
	out.Tags = append([]string(nil), r.Tags...)
	return &out
}

// recompute derives FilledQuantity, AvgPrice, and Status from the fill list.
func (r *ExecutionReport) recompute() {
	var qty, notional float64
	for _, f := range r.Fills {
		qty += f.Quantity
		notional += f.Quantity * f.Price
	}
	r.FilledQuantity = qty
	if qty > 0 {
		r.AvgPrice = notional / qty
	}
	const epsilon = 1e-9
	switch {
	case qty >= r.Quantity-epsilon:
		r.Status = OrderStatusFilled
	case qty > 0:
		r.Status = OrderStatusPartiallyFilled
	}
}

// Severity classifies a risk signal.
type Severity string

const (
	// SeverityAlert is non-blocking; the signal is recorded and the order
	// proceeds.
	SeverityAlert Severity = "alert"
	// SeverityLock blocks the submission; the first lock terminates rule
	// evaluation.
	SeverityLock Severity = "lock"
)

// RiskSignal is produced by a risk rule for one evaluation.
type RiskSignal struct {
	Severity  Severity  `json:"severity"`
	Rule      string    `json:"rule"`
	Reason    string    `json:"reason"`
	AccountID string    `json:"account_id"`
	Symbol    string    `json:"symbol,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// AccountRiskState is the per-account mutable risk state. It is mutated only
// through the account manager, under the account's lock.
type AccountRiskState struct {
	AccountID     string             `json:"account_id"`
	Exposure      map[string]float64 `json:"exposure"` // symbol -> signed notional
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	StopLoss      float64            `json:"stop_loss,omitempty"`
	LastReset     time.Time          `json:"last_reset"`
}

// Clone returns a deep copy safe to read outside the account lock.
func (s *AccountRiskState) Clone() *AccountRiskState {
	out := *s
	out.Exposure = make(map[string]float64, len(s.Exposure))
	for sym, v := range s.Exposure {
		out.Exposure[sym] = v
	}
	return &out
}

// StatusChange is one entry in an order's append-only status history.
type StatusChange struct {
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Note is a free-text annotation on a ledger entry. Notes may be appended
// even after an order reaches a terminal state, for audit purposes.
type Note struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// LedgerEntry is the durable record of one routed order.
type LedgerEntry struct {
	OrderID       string         `json:"order_id"`
	AccountID     string         `json:"account_id"`
	Venue         string         `json:"venue"`
	Symbol        string         `json:"symbol"`
	Side          OrderSide      `json:"side"`
	OrderType     OrderType      `json:"order_type"`
	Quantity      float64        `json:"quantity"`
	Price         float64        `json:"price,omitempty"`
	Status        string         `json:"status"`
	StrategyID    string         `json:"strategy_id,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Notes         []Note         `json:"notes,omitempty"`
	StatusHistory []StatusChange `json:"status_history,omitempty"`
	Fills         []Fill         `json:"fills,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Execution is the aggregated-fills view of a single order.
type Execution struct {
	OrderID        string    `json:"order_id"`
	AccountID      string    `json:"account_id"`
	Symbol         string    `json:"symbol"`
	Side           OrderSide `json:"side"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgPrice       float64   `json:"avg_price"`
	FillCount      int       `json:"fill_count"`
	FirstFillAt    time.Time `json:"first_fill_at"`
	LastFillAt     time.Time `json:"last_fill_at"`
}

// OperatingMode selects the venue set the router exposes.
type OperatingMode string

const (
	ModePaper OperatingMode = "paper"
	ModeLive  OperatingMode = "live"
)

// OperatingState is the runtime-adjustable router state: operating mode and
// the default per-symbol daily notional limit applied when no explicit
// per-symbol cap is configured.
type OperatingState struct {
	Mode               OperatingMode `json:"mode"`
	DailyNotionalLimit float64       `json:"daily_notional_limit"`
}
