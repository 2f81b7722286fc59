// Package venue defines the venue adapter contract and provides the
// simulated adapters used for order routing, plus a live Alpaca-backed
// adapter. The set of adapters is fixed at startup; there is no runtime
// registration.
package venue

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tradegate/internal/domain"
)

// ErrUnknownSymbol is returned when an adapter needs a market price for a
// symbol it has no quote for.
var ErrUnknownSymbol = errors.New("unknown symbol")

// CancelStatus is the outcome of a cancellation request.
type CancelStatus string

const (
	CancelOK             CancelStatus = "cancelled"
	CancelNotFound       CancelStatus = "not_found"
	CancelNotCancellable CancelStatus = "not_cancellable"
)

// Adapter abstracts a brokerage venue for order placement and cancellation.
type Adapter interface {
	// Name returns the venue identifier (e.g. "instant", "staged").
	Name() string

	// Place sends an intent to the venue and returns the resulting report.
	// Transport failures return an error; risk rejection never happens here.
	Place(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error)

	// Cancel requests cancellation of an order previously placed on this
	// venue.
	Cancel(ctx context.Context, orderID string) (CancelStatus, error)
}

// Registry resolves adapters by venue identifier. The adapter set is fixed
// at construction.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters, keyed by Name().
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for the venue identifier.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered venue identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// Ticker is implemented by adapters that advance resting orders when a new
// quote arrives.
type Ticker interface {
	Tick(symbol string, price float64)
}

// QuoteSource holds last-known market prices per symbol. Simulated adapters
// use it to price market orders and to decide limit-order marketability.
type QuoteSource struct {
	mu     sync.RWMutex
	quotes map[string]float64
}

// NewQuoteSource creates a QuoteSource seeded with the given prices.
func NewQuoteSource(seed map[string]float64) *QuoteSource {
	quotes := make(map[string]float64, len(seed))
	for sym, px := range seed {
		quotes[sym] = px
	}
	return &QuoteSource{quotes: quotes}
}

// Quote returns the last price for symbol.
func (q *QuoteSource) Quote(symbol string) (float64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	px, ok := q.quotes[symbol]
	return px, ok
}

// SetQuote updates the last price for symbol.
func (q *QuoteSource) SetQuote(symbol string, price float64) {
	q.mu.Lock()
	q.quotes[symbol] = price
	q.mu.Unlock()
}

// refPrice resolves the execution reference price for an intent: the limit
// price when present, otherwise the last quote.
func refPrice(q *QuoteSource, intent *domain.ExecutionIntent) (float64, error) {
	if intent.OrderType == domain.OrderTypeLimit && intent.Price > 0 {
		return intent.Price, nil
	}
	px, ok := q.Quote(intent.Symbol)
	if !ok {
		return 0, ErrUnknownSymbol
	}
	return px, nil
}
