package venue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Adapter = (*StagedAdapter)(nil)

// StagedConfig controls the deterministic fill simulation.
type StagedConfig struct {
	// Ratios split the requested quantity into proportional chunks. The
	// default is a 60/40 split. Ratios must sum to 1; the last chunk absorbs
	// any rounding remainder.
	Ratios []float64
	// DriftBps moves each successive chunk's price against the taker by this
	// many basis points. Limit orders are never filled through their limit.
	DriftBps float64
}

// stagedOrder is a resting order awaiting a marketable quote.
type stagedOrder struct {
	intent *domain.ExecutionIntent
	report *domain.ExecutionReport
	// chunks not yet filled, as absolute quantities.
	remaining []float64
}

// StagedAdapter simulates staged execution: marketable orders return their
// full fill sequence synchronously with a quantity-weighted average price;
// non-marketable GTC limit orders rest as accepted and advance one chunk per
// quote tick. Resting orders can be cancelled until the final chunk fills.
type StagedAdapter struct {
	name   string
	cfg    StagedConfig
	quotes *QuoteSource

	// OnFill, when set, is invoked for every fill applied to a resting order
	// after the synchronous Place call returned. The report passed is a
	// snapshot taken after the fill was applied.
	OnFill func(orderID string, fill domain.Fill, report *domain.ExecutionReport)

	mu     sync.Mutex
	orders map[string]*stagedOrder
}

// NewStagedAdapter creates a partial-fill adapter registered under name.
func NewStagedAdapter(name string, cfg StagedConfig, quotes *QuoteSource) *StagedAdapter {
	if len(cfg.Ratios) == 0 {
		cfg.Ratios = []float64{0.6, 0.4}
	}
	return &StagedAdapter{
		name:   name,
		cfg:    cfg,
		quotes: quotes,
		orders: make(map[string]*stagedOrder),
	}
}

// Name returns the venue identifier.
func (a *StagedAdapter) Name() string {
	return a.name
}

// Place executes a marketable intent as a deterministic fill sequence, or
// rests a non-marketable GTC limit order as accepted. Non-marketable IOC
// orders are rejected.
func (a *StagedAdapter) Place(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := newReport(a.name, intent, now)
	report.Status = domain.OrderStatusAccepted

	quote, haveQuote := a.quotes.Quote(intent.Symbol)
	if intent.OrderType == domain.OrderTypeMarket && !haveQuote {
		return nil, ErrUnknownSymbol
	}

	if !marketable(intent, quote, haveQuote) {
		if intent.EffectiveTIF() == domain.TimeInForceIOC {
			report.Status = domain.OrderStatusRejected
			report.Reason = "ioc order not marketable"
			a.store(report, nil)
			return report.Clone(), nil
		}
		// Rest the order until a tick crosses the limit.
		a.store(report, a.chunkQuantities(intent.Quantity))
		return report.Clone(), nil
	}

	base := intent.Price
	if intent.OrderType == domain.OrderTypeMarket {
		base = quote
	}
	for i, qty := range a.chunkQuantities(intent.Quantity) {
		if err := report.ApplyFill(domain.Fill{
			ID:        uuid.NewString(),
			Quantity:  qty,
			Price:     a.chunkPrice(intent, base, i),
			Timestamp: now,
		}); err != nil {
			return nil, err
		}
	}
	a.store(report, nil)
	return report.Clone(), nil
}

// Cancel cancels a resting or partially filled order. Terminal orders return
// CancelNotCancellable without mutation.
func (a *StagedAdapter) Cancel(_ context.Context, orderID string) (CancelStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return CancelNotFound, nil
	}
	if o.report.Status.Terminal() {
		return CancelNotCancellable, nil
	}
	o.report.Status = domain.OrderStatusCancelled
	o.remaining = nil
	return CancelOK, nil
}

// Tick publishes a new quote and advances resting orders for the symbol by
// one chunk each wherever the quote crosses their limit. Fills are reported
// through OnFill.
func (a *StagedAdapter) Tick(symbol string, price float64) {
	a.quotes.SetQuote(symbol, price)

	type pending struct {
		orderID string
		fill    domain.Fill
		report  *domain.ExecutionReport
	}
	var fired []pending

	a.mu.Lock()
	for id, o := range a.orders {
		if o.intent.Symbol != symbol || o.report.Status.Terminal() || len(o.remaining) == 0 {
			continue
		}
		if !marketable(o.intent, price, true) {
			continue
		}
		chunk := len(o.report.Fills)
		fill := domain.Fill{
			ID:        uuid.NewString(),
			Quantity:  o.remaining[0],
			Price:     a.chunkPrice(o.intent, o.intent.Price, chunk),
			Timestamp: time.Now().UTC(),
		}
		if err := o.report.ApplyFill(fill); err != nil {
			continue
		}
		o.remaining = o.remaining[1:]
		fired = append(fired, pending{orderID: id, fill: fill, report: o.report.Clone()})
	}
	a.mu.Unlock()

	if a.OnFill == nil {
		return
	}
	for _, p := range fired {
		a.OnFill(p.orderID, p.fill, p.report)
	}
}

// OrderStatus reports the adapter's view of an order, for tests and polling.
func (a *StagedAdapter) OrderStatus(orderID string) (domain.OrderStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return "", false
	}
	return o.report.Status, true
}

func (a *StagedAdapter) store(report *domain.ExecutionReport, remaining []float64) {
	a.mu.Lock()
	a.orders[report.OrderID] = &stagedOrder{
		intent:    intentFromReport(report),
		report:    report,
		remaining: remaining,
	}
	a.mu.Unlock()
}

// chunkQuantities splits qty per the configured ratios, last chunk absorbing
// the rounding remainder.
func (a *StagedAdapter) chunkQuantities(qty float64) []float64 {
	out := make([]float64, len(a.cfg.Ratios))
	var used float64
	for i, ratio := range a.cfg.Ratios[:len(a.cfg.Ratios)-1] {
		out[i] = qty * ratio
		used += out[i]
	}
	out[len(out)-1] = qty - used
	return out
}

// chunkPrice drifts chunk i against the taker, clamped at the limit price
// for limit orders.
func (a *StagedAdapter) chunkPrice(intent *domain.ExecutionIntent, base float64, i int) float64 {
	drift := base * a.cfg.DriftBps / 10000 * float64(i)
	var px float64
	if intent.Side == domain.OrderSideBuy {
		px = base + drift
		if intent.OrderType == domain.OrderTypeLimit && px > intent.Price {
			px = intent.Price
		}
	} else {
		px = base - drift
		if intent.OrderType == domain.OrderTypeLimit && px < intent.Price {
			px = intent.Price
		}
	}
	return px
}

// marketable reports whether the intent would execute at the current quote.
// Market orders always execute; limit buys need quote <= limit, limit sells
// need quote >= limit. With no quote at all, limit orders rest.
func marketable(intent *domain.ExecutionIntent, quote float64, haveQuote bool) bool {
	if intent.OrderType == domain.OrderTypeMarket {
		return true
	}
	if !haveQuote {
		return false
	}
	if intent.Side == domain.OrderSideBuy {
		return quote <= intent.Price
	}
	return quote >= intent.Price
}

// intentFromReport reconstructs the attributes Tick needs from the echoed
// report fields.
func intentFromReport(r *domain.ExecutionReport) *domain.ExecutionIntent {
	return &domain.ExecutionIntent{
		Venue:       r.Venue,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Quantity:    r.Quantity,
		OrderType:   r.OrderType,
		Price:       r.Price,
		TimeInForce: r.TimeInForce,
		AccountID:   r.AccountID,
	}
}
