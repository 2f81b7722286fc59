package venue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Adapter = (*InstantAdapter)(nil)

// InstantAdapter fills every order synchronously and fully, at the limit
// price or the last quote. It keeps placed orders in memory so cancellation
// requests can be answered, though every order it produces is already
// terminal.
type InstantAdapter struct {
	name   string
	quotes *QuoteSource

	mu     sync.Mutex
	orders map[string]*domain.ExecutionReport
}

// NewInstantAdapter creates an immediate-fill adapter registered under name.
func NewInstantAdapter(name string, quotes *QuoteSource) *InstantAdapter {
	return &InstantAdapter{
		name:   name,
		quotes: quotes,
		orders: make(map[string]*domain.ExecutionReport),
	}
}

// Name returns the venue identifier.
func (a *InstantAdapter) Name() string {
	return a.name
}

// Place fills the intent in one step at the reference price.
func (a *InstantAdapter) Place(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	px, err := refPrice(a.quotes, intent)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := newReport(a.name, intent, now)
	report.Status = domain.OrderStatusAccepted
	if err := report.ApplyFill(domain.Fill{
		ID:        uuid.NewString(),
		Quantity:  intent.Quantity,
		Price:     px,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.orders[report.OrderID] = report
	a.mu.Unlock()
	return report.Clone(), nil
}

// Cancel never succeeds: instant orders are terminal the moment they are
// placed.
func (a *InstantAdapter) Cancel(_ context.Context, orderID string) (CancelStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.orders[orderID]; !ok {
		return CancelNotFound, nil
	}
	return CancelNotCancellable, nil
}

// newReport builds a report echoing the intent's attributes.
func newReport(venueName string, intent *domain.ExecutionIntent, now time.Time) *domain.ExecutionReport {
	return &domain.ExecutionReport{
		OrderID:     uuid.NewString(),
		Venue:       venueName,
		AccountID:   intent.AccountID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		OrderType:   intent.OrderType,
		TimeInForce: intent.EffectiveTIF(),
		Quantity:    intent.Quantity,
		Price:       intent.Price,
		SubmittedAt: now,
		Tags:        append([]string(nil), intent.Tags...),
	}
}
