package venue

import (
	"context"
	"strings"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/util"
)

// Compile-time interface check.
var _ Adapter = (*AlpacaAdapter)(nil)

// AlpacaAdapter routes orders to the Alpaca brokerage API. It is only
// registered when the operating mode is "live"; paper mode uses the
// simulated venues exclusively.
type AlpacaAdapter struct {
	name    string
	client  *alpacaapi.Client
	limiter *util.RateLimiter
}

// NewAlpacaAdapter creates an Alpaca-backed adapter. callsPerMinute bounds
// the request rate against the brokerage API.
func NewAlpacaAdapter(name, apiKey, apiSecret, baseURL string, callsPerMinute int) *AlpacaAdapter {
	client := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaAdapter{
		name:    name,
		client:  client,
		limiter: util.NewRateLimiter(callsPerMinute),
	}
}

// Name returns the venue identifier.
func (a *AlpacaAdapter) Name() string {
	return a.name
}

// Place submits the intent to Alpaca and converts the response into an
// execution report.
func (a *AlpacaAdapter) Place(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(intent.Quantity)
	req := alpacaapi.PlaceOrderRequest{
		Symbol:        intent.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(intent.Side),
		Type:          alpacaType(intent.OrderType),
		TimeInForce:   alpacaTIF(intent.EffectiveTIF()),
		ClientOrderID: intent.IdempotencyKey,
	}
	if intent.OrderType == domain.OrderTypeLimit {
		limit := decimal.NewFromFloat(intent.Price)
		req.LimitPrice = &limit
	}

	order, err := a.client.PlaceOrder(req)
	if err != nil {
		return nil, err
	}
	return a.convertOrder(order, intent), nil
}

// Cancel requests cancellation of an open Alpaca order.
func (a *AlpacaAdapter) Cancel(ctx context.Context, orderID string) (CancelStatus, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if err := a.client.CancelOrder(orderID); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "404"):
			return CancelNotFound, nil
		case strings.Contains(msg, "422"):
			return CancelNotCancellable, nil
		}
		return "", err
	}
	return CancelOK, nil
}

// convertOrder maps an Alpaca order into the service's report shape. Alpaca
// returns fill aggregates rather than individual fills, so a single
// synthetic fill carries the filled quantity at the average price.
func (a *AlpacaAdapter) convertOrder(order *alpacaapi.Order, intent *domain.ExecutionIntent) *domain.ExecutionReport {
	report := &domain.ExecutionReport{
		OrderID:     order.ID,
		Venue:       a.name,
		AccountID:   intent.AccountID,
		Symbol:      order.Symbol,
		Side:        intent.Side,
		OrderType:   intent.OrderType,
		TimeInForce: intent.EffectiveTIF(),
		Status:      convertStatus(order.Status),
		Quantity:    intent.Quantity,
		Price:       intent.Price,
		SubmittedAt: order.SubmittedAt,
		Tags:        append([]string(nil), intent.Tags...),
	}

	filled, _ := order.FilledQty.Float64()
	if filled > 0 {
		var avg float64
		if order.FilledAvgPrice != nil {
			avg, _ = order.FilledAvgPrice.Float64()
		}
		ts := order.SubmittedAt
		if order.FilledAt != nil {
			ts = *order.FilledAt
		}
		report.Fills = []domain.Fill{{Quantity: filled, Price: avg, Timestamp: ts}}
		report.FilledQuantity = filled
		report.AvgPrice = avg
	}
	return report
}

func alpacaSide(side domain.OrderSide) alpacaapi.Side {
	if side == domain.OrderSideSell {
		return alpacaapi.Sell
	}
	return alpacaapi.Buy
}

func alpacaType(t domain.OrderType) alpacaapi.OrderType {
	if t == domain.OrderTypeLimit {
		return alpacaapi.Limit
	}
	return alpacaapi.Market
}

func alpacaTIF(tif domain.TimeInForce) alpacaapi.TimeInForce {
	switch tif {
	case domain.TimeInForceIOC:
		return alpacaapi.IOC
	case domain.TimeInForceDay:
		return alpacaapi.Day
	}
	return alpacaapi.GTC
}

func convertStatus(status string) domain.OrderStatus {
	switch status {
	case "filled":
		return domain.OrderStatusFilled
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "canceled", "cancelled":
		return domain.OrderStatusCancelled
	case "rejected", "expired":
		return domain.OrderStatusRejected
	}
	return domain.OrderStatusAccepted
}
