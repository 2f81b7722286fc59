package router

import (
	"fmt"

	"tradegate/internal/domain"
)

// Error kinds, returned to callers as machine-readable identifiers.
const (
	KindValidation     = "validation_error"
	KindRiskLocked     = "risk_locked"
	KindUnknownVenue   = "unknown_venue"
	KindUnknownSymbol  = "unknown_symbol"
	KindAdapterError   = "adapter_error"
	KindAdapterTimeout = "adapter_timeout"
	KindPersistence    = "persistence_failure"
	KindNotCancellable = "not_cancellable"
)

// ValidationError marks a malformed intent. It guarantees no side effects:
// no venue call, no ledger entry, no account mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// RiskLockedError carries the blocking risk signal and the synthesized
// rejected report recorded in the ledger.
type RiskLockedError struct {
	Signal domain.RiskSignal
	Report *domain.ExecutionReport
}

func (e *RiskLockedError) Error() string {
	return fmt.Sprintf("risk locked by %s: %s", e.Signal.Rule, e.Signal.Reason)
}

// UnknownVenueError marks an intent naming a venue absent from the adapter
// registry (or unavailable in the current operating mode).
type UnknownVenueError struct {
	Venue string
}

func (e *UnknownVenueError) Error() string {
	return "unknown venue " + e.Venue
}

// UnknownSymbolError marks a market order for a symbol with no quote.
type UnknownSymbolError struct {
	Symbol string
}

func (e *UnknownSymbolError) Error() string {
	return "unknown symbol " + e.Symbol
}

// AdapterError marks a venue transport failure. The order is recorded as
// failed, never as accepted, and account state is untouched.
type AdapterError struct {
	Venue string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("venue %s: %v", e.Venue, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// AdapterTimeoutError marks a venue call that exceeded its deadline.
type AdapterTimeoutError struct {
	Venue string
	Err   error
}

func (e *AdapterTimeoutError) Error() string {
	return fmt.Sprintf("venue %s timed out: %v", e.Venue, e.Err)
}

func (e *AdapterTimeoutError) Unwrap() error {
	return e.Err
}

// PersistenceError marks a ledger write failure. When the venue already
// accepted the order, the order is left in a needs_reconciliation status
// rather than silently dropping the fill.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NotCancellableError is returned for cancellation requests against orders
// already in a terminal state. Ledger state is left unchanged.
type NotCancellableError struct {
	OrderID string
	Status  string
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("order %s is %s and cannot be cancelled", e.OrderID, e.Status)
}
