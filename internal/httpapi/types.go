package httpapi

import (
	"tradegate/internal/domain"
)

// SubmitOrderRequest is the body of POST /api/orders. It maps directly onto
// an execution intent.
type SubmitOrderRequest struct {
	Venue          string                `json:"venue"`
	Symbol         string                `json:"symbol"`
	Side           string                `json:"side"`
	Quantity       float64               `json:"quantity"`
	OrderType      string                `json:"order_type"`
	Price          float64               `json:"price,omitempty"`
	TimeInForce    string                `json:"time_in_force,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	AccountID      string                `json:"account_id"`
	StrategyID     string                `json:"strategy_id,omitempty"`
	Tags           []string              `json:"tags,omitempty"`
	Notes          string                `json:"notes,omitempty"`
	RiskOverrides  *domain.RiskOverrides `json:"risk_overrides,omitempty"`
}

// intent converts the request into a domain intent. Validation happens in
// the router.
func (req *SubmitOrderRequest) intent() *domain.ExecutionIntent {
	return &domain.ExecutionIntent{
		Venue:          req.Venue,
		Symbol:         req.Symbol,
		Side:           domain.OrderSide(req.Side),
		Quantity:       req.Quantity,
		OrderType:      domain.OrderType(req.OrderType),
		Price:          req.Price,
		TimeInForce:    domain.TimeInForce(req.TimeInForce),
		IdempotencyKey: req.IdempotencyKey,
		AccountID:      req.AccountID,
		StrategyID:     req.StrategyID,
		Tags:           req.Tags,
		Notes:          req.Notes,
		RiskOverrides:  req.RiskOverrides,
	}
}

// ErrorResponse is the uniform error body. Kind carries the machine-readable
// error class; Report is present for risk-locked submissions so callers see
// the recorded rejection.
type ErrorResponse struct {
	Error  string                  `json:"error"`
	Kind   string                  `json:"kind,omitempty"`
	Report *domain.ExecutionReport `json:"report,omitempty"`
	Signal *domain.RiskSignal      `json:"signal,omitempty"`
}

// NoteRequest is the body of POST /api/orders/{id}/notes.
type NoteRequest struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

// OrderLogResponse wraps GET /api/orders/log.
type OrderLogResponse struct {
	Orders []domain.LedgerEntry `json:"orders"`
	Count  int                  `json:"count"`
}

// ExecutionsResponse wraps GET /api/executions.
type ExecutionsResponse struct {
	Executions []domain.Execution `json:"executions"`
	Count      int                `json:"count"`
}

// AccountRiskResponse wraps GET /api/accounts/{id}/risk.
type AccountRiskResponse struct {
	State   *domain.AccountRiskState `json:"state"`
	Signals []domain.RiskSignal      `json:"signals"`
}

// VenuesResponse wraps GET /api/venues.
type VenuesResponse struct {
	Venues []string `json:"venues"`
}

// QuoteRequest is the body of PUT /api/quotes/{symbol}.
type QuoteRequest struct {
	Price float64 `json:"price"`
}

// QuoteResponse echoes the applied quote.
type QuoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}
