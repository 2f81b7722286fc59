// Package account owns per-account mutable risk state. All reads feeding
// the risk engine and all writes following an admitted order are serialized
// per account; different accounts never contend.
package account

import (
	"sync"
	"time"

	"tradegate/internal/domain"
)

// slot pairs one account's state with its lock.
type slot struct {
	mu    sync.Mutex
	state *domain.AccountRiskState
}

// Manager is a lock table of per-account risk state with daily reset
// bookkeeping.
type Manager struct {
	resetHour int
	loc       *time.Location
	now       func() time.Time

	mu    sync.Mutex // guards the slots map only
	slots map[string]*slot
}

// NewManager creates a manager whose daily reset boundary is resetHour
// o'clock in loc (UTC if nil).
func NewManager(resetHour int, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		resetHour: resetHour,
		loc:       loc,
		now:       time.Now,
		slots:     make(map[string]*slot),
	}
}

func (m *Manager) slotFor(accountID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[accountID]
	if !ok {
		s = &slot{state: &domain.AccountRiskState{
			AccountID: accountID,
			Exposure:  make(map[string]float64),
			LastReset: m.now(),
		}}
		m.slots[accountID] = s
	}
	return s
}

// With runs fn while holding the account's lock, giving it exclusive access
// to the state for the whole read-check-write sequence. The lazy daily
// rollover is applied before fn sees the state.
func (m *Manager) With(accountID string, fn func(state *domain.AccountRiskState) error) error {
	s := m.slotFor(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.maybeRollover(s.state)
	return fn(s.state)
}

// Snapshot returns a copy of the account's current state, safe to read
// without holding the lock.
func (m *Manager) Snapshot(accountID string) *domain.AccountRiskState {
	var out *domain.AccountRiskState
	_ = m.With(accountID, func(state *domain.AccountRiskState) error {
		out = state.Clone()
		return nil
	})
	return out
}

// ApplyAccepted records an accepted order's exposure against the account.
// It must be called under the account's lock (inside With), only after both
// risk admission and successful venue submission.
func ApplyAccepted(state *domain.AccountRiskState, report *domain.ExecutionReport, refPrice float64) {
	price := report.AvgPrice
	if price == 0 {
		price = report.Price
	}
	if price == 0 {
		price = refPrice
	}
	notional := price * report.Quantity
	if report.Side == domain.OrderSideSell {
		notional = -notional
	}
	state.Exposure[report.Symbol] += notional
}

// SeedOverrides copies caller-supplied PnL context into the state when the
// account has no tracked PnL yet. Later submissions override per-evaluation
// only (the risk rules read overrides directly).
func SeedOverrides(state *domain.AccountRiskState, ov *domain.RiskOverrides) {
	if ov == nil {
		return
	}
	if state.RealizedPnL == 0 && ov.RealizedPnL != nil {
		state.RealizedPnL = *ov.RealizedPnL
	}
	if state.UnrealizedPnL == 0 && ov.UnrealizedPnL != nil {
		state.UnrealizedPnL = *ov.UnrealizedPnL
	}
	if state.StopLoss == 0 && ov.StopLoss != nil {
		state.StopLoss = *ov.StopLoss
	}
}

// Reset zeroes the account's exposure and PnL counters immediately (the
// explicit operator action), stamping the reset time.
func (m *Manager) Reset(accountID string) *domain.AccountRiskState {
	var out *domain.AccountRiskState
	_ = m.With(accountID, func(state *domain.AccountRiskState) error {
		m.zero(state)
		out = state.Clone()
		return nil
	})
	return out
}

// maybeRollover applies the daily boundary reset if the state was last reset
// before the most recent boundary.
func (m *Manager) maybeRollover(state *domain.AccountRiskState) {
	boundary := m.lastBoundary(m.now())
	if state.LastReset.Before(boundary) {
		m.zero(state)
	}
}

func (m *Manager) zero(state *domain.AccountRiskState) {
	state.Exposure = make(map[string]float64)
	state.RealizedPnL = 0
	state.UnrealizedPnL = 0
	state.LastReset = m.now()
}

// lastBoundary returns the most recent daily reset instant at or before now.
func (m *Manager) lastBoundary(now time.Time) time.Time {
	local := now.In(m.loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), m.resetHour, 0, 0, 0, m.loc)
	if boundary.After(local) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}
