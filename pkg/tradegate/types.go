package tradegate

import "tradegate/internal/domain"

// Aliases re-export the domain types appearing in the client API so
// importers outside this module can name them.
type (
	ExecutionIntent  = domain.ExecutionIntent
	ExecutionReport  = domain.ExecutionReport
	Fill             = domain.Fill
	LedgerEntry      = domain.LedgerEntry
	Execution        = domain.Execution
	RiskSignal       = domain.RiskSignal
	RiskOverrides    = domain.RiskOverrides
	AccountRiskState = domain.AccountRiskState
	OperatingState   = domain.OperatingState
	OperatingMode    = domain.OperatingMode
	OrderSide        = domain.OrderSide
	OrderType        = domain.OrderType
	TimeInForce      = domain.TimeInForce
	OrderStatus      = domain.OrderStatus
)

const (
	SideBuy  = domain.OrderSideBuy
	SideSell = domain.OrderSideSell

	TypeMarket = domain.OrderTypeMarket
	TypeLimit  = domain.OrderTypeLimit

	ModePaper = domain.ModePaper
	ModeLive  = domain.ModeLive
)
