// Package ledger persists the durable record of every routed order: status
// transitions, fills, notes, tags, and recorded risk signals.
package ledger

import (
	"context"
	"errors"
	"time"

	"tradegate/internal/domain"
)

// ErrNotFound is returned when no ledger entry exists for an order id.
var ErrNotFound = errors.New("order not found")

// ErrTerminal is returned when a fill or status transition is attempted on
// an order already in a terminal state. Notes are exempt.
var ErrTerminal = errors.New("order is in a terminal state")

// Filter narrows ledger queries. Zero-valued fields are ignored.
type Filter struct {
	AccountID  string
	Symbol     string
	Tag        string
	StrategyID string
	From       time.Time
	To         time.Time
}

// Ledger is the durable order and execution record.
type Ledger interface {
	// CreateEntry inserts a new order record with its initial status.
	CreateEntry(ctx context.Context, entry *domain.LedgerEntry) error

	// AppendStatus appends to the order's status history and updates the
	// current status. Transitions out of a terminal state are rejected.
	AppendStatus(ctx context.Context, orderID, status, reason string) error

	// AppendFill records one fill against a non-terminal order.
	AppendFill(ctx context.Context, orderID string, fill domain.Fill) error

	// AppendNote adds a free-text note and optional extra tags. Allowed even
	// after the order is terminal, for audit purposes.
	AppendNote(ctx context.Context, orderID, text string, tags []string) error

	// Get returns the full entry for one order.
	Get(ctx context.Context, orderID string) (*domain.LedgerEntry, error)

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, f Filter) ([]domain.LedgerEntry, error)

	// Executions aggregates fills per order for entries matching the filter.
	Executions(ctx context.Context, f Filter) ([]domain.Execution, error)

	// SaveSignal records a risk signal (alerts for later retrieval, locks
	// for investigation).
	SaveSignal(ctx context.Context, sig domain.RiskSignal) error

	// ListSignals returns the most recent signals for an account, up to
	// limit.
	ListSignals(ctx context.Context, accountID string, limit int) ([]domain.RiskSignal, error)

	Close() error
}
