// Package router composes intent validation, idempotent deduplication, the
// risk rule chain, venue adapters, the ledger, and per-account risk state
// into the order-routing pipeline.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/account"
	"tradegate/internal/domain"
	"tradegate/internal/idempotency"
	"tradegate/internal/ledger"
	"tradegate/internal/risk"
	"tradegate/internal/venue"
)

// DefaultAdapterTimeout bounds each venue call.
const DefaultAdapterTimeout = 5 * time.Second

// StateHandle is the runtime-adjustable operating state, injected into the
// router rather than held as ambient global state so tests can construct
// isolated instances.
type StateHandle struct {
	mu    sync.RWMutex
	state domain.OperatingState
}

// NewStateHandle creates a handle with the given initial state.
func NewStateHandle(initial domain.OperatingState) *StateHandle {
	if initial.Mode == "" {
		initial.Mode = domain.ModePaper
	}
	return &StateHandle{state: initial}
}

// Get returns the current operating state.
func (h *StateHandle) Get() domain.OperatingState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Set replaces the operating state.
func (h *StateHandle) Set(state domain.OperatingState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

// DailyNotionalLimit returns the current default notional cap; used by the
// max-notional rule so PUT /state takes effect immediately.
func (h *StateHandle) DailyNotionalLimit() float64 {
	return h.Get().DailyNotionalLimit
}

// Options wires a Router.
type Options struct {
	Registry *venue.Registry
	Engine   *risk.Engine
	Accounts *account.Manager
	Idem     *idempotency.Store
	Ledger   ledger.Ledger
	Quotes   *venue.QuoteSource
	State    *StateHandle
	Log      *slog.Logger
	// LiveVenues names adapters that only serve in live mode; in paper mode
	// they are treated as unknown.
	LiveVenues map[string]bool
	// AdapterTimeout bounds each venue call (DefaultAdapterTimeout if zero).
	AdapterTimeout time.Duration
}

// Router is the routing orchestrator.
type Router struct {
	registry       *venue.Registry
	engine         *risk.Engine
	accounts       *account.Manager
	idem           *idempotency.Store
	ledger         ledger.Ledger
	quotes         *venue.QuoteSource
	state          *StateHandle
	log            *slog.Logger
	liveVenues     map[string]bool
	adapterTimeout time.Duration
}

// New creates a Router from the given options.
func New(opts Options) *Router {
	timeout := opts.AdapterTimeout
	if timeout <= 0 {
		timeout = DefaultAdapterTimeout
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry:       opts.Registry,
		engine:         opts.Engine,
		accounts:       opts.Accounts,
		idem:           opts.Idem,
		ledger:         opts.Ledger,
		quotes:         opts.Quotes,
		state:          opts.State,
		log:            log,
		liveVenues:     opts.LiveVenues,
		adapterTimeout: timeout,
	}
}

// SubmitOrder runs the full routing pipeline for one intent: validation,
// idempotent deduplication, risk evaluation, venue submission, ledger
// persistence, and account state update. Risk locks return a
// *RiskLockedError alongside the rejected report.
func (r *Router) SubmitOrder(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	if err := intent.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	// Idempotency claim first: a recorded outcome replays even if the venue
	// set or operating mode changed between retries.
	var claim *idempotency.Claim
	if intent.IdempotencyKey != "" {
		var prior *idempotency.Outcome
		var err error
		claim, prior, err = r.idem.Acquire(ctx, intent.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			r.log.Debug("idempotent replay",
				"key", intent.IdempotencyKey, "order_id", prior.Report.OrderID)
			return r.replay(prior)
		}
	}

	adapter, ok := r.registry.Get(intent.Venue)
	if !ok || (r.liveVenues[intent.Venue] && r.state.Get().Mode != domain.ModeLive) {
		if claim != nil {
			claim.Release()
		}
		return nil, &UnknownVenueError{Venue: intent.Venue}
	}
	refPrice, err := r.referencePrice(intent)
	if err != nil {
		if claim != nil {
			claim.Release()
		}
		return nil, err
	}

	report, err := r.route(ctx, adapter, intent, refPrice)
	if claim != nil {
		switch {
		case err == nil:
			claim.Resolve(idempotency.Outcome{Report: report})
		case isRiskLock(err):
			var rl *RiskLockedError
			errors.As(err, &rl)
			sig := rl.Signal
			claim.Resolve(idempotency.Outcome{Report: report, LockSignal: &sig})
		case isPersistence(err) && report != nil:
			// The venue executed; a caller retry must not re-execute.
			claim.Resolve(idempotency.Outcome{Report: report})
		default:
			// Venue failure with no result: release so a retry re-executes.
			claim.Release()
		}
	}
	return report, err
}

// route performs the per-account serialized portion of the pipeline: the
// risk read-check and the post-submission state write are atomic under the
// account's lock.
func (r *Router) route(ctx context.Context, adapter venue.Adapter, intent *domain.ExecutionIntent, refPrice float64) (*domain.ExecutionReport, error) {
	var report *domain.ExecutionReport
	var routeErr error

	lockErr := r.accounts.With(intent.AccountID, func(state *domain.AccountRiskState) error {
		account.SeedOverrides(state, intent.RiskOverrides)

		now := time.Now().UTC()
		res := r.engine.Evaluate(risk.Input{
			State:    state,
			Intent:   intent,
			RefPrice: refPrice,
			Now:      now,
		})
		for _, alert := range res.Alerts {
			if err := r.ledger.SaveSignal(ctx, alert); err != nil {
				r.log.Warn("recording risk alert", "rule", alert.Rule, "error", err)
			}
		}
		if !res.Admitted() {
			report, routeErr = r.rejectLocked(ctx, intent, *res.Lock, now)
			return nil
		}

		venueReport, err := r.place(ctx, adapter, intent)
		if err != nil {
			r.recordFailure(ctx, intent, err, now)
			routeErr = err
			return nil
		}
		report = venueReport

		if err := r.persistAccepted(ctx, intent, venueReport, now); err != nil {
			routeErr = err
			return nil
		}

		// State mutates only for orders the venue actually took.
		if venueReport.Status != domain.OrderStatusRejected {
			account.ApplyAccepted(state, venueReport, refPrice)
		}
		return nil
	})
	if lockErr != nil {
		return nil, lockErr
	}
	return report, routeErr
}

// place invokes the adapter under the configured timeout and classifies
// failures.
func (r *Router) place(ctx context.Context, adapter venue.Adapter, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.adapterTimeout)
	defer cancel()

	report, err := adapter.Place(callCtx, intent)
	if err == nil {
		return report, nil
	}
	if errors.Is(err, venue.ErrUnknownSymbol) {
		return nil, &UnknownSymbolError{Symbol: intent.Symbol}
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &AdapterTimeoutError{Venue: adapter.Name(), Err: err}
	}
	return nil, &AdapterError{Venue: adapter.Name(), Err: err}
}

// rejectLocked records the lock signal and a terminal ledger entry, and
// returns the rejected report wrapped in a RiskLockedError.
func (r *Router) rejectLocked(ctx context.Context, intent *domain.ExecutionIntent, lock domain.RiskSignal, now time.Time) (*domain.ExecutionReport, error) {
	if err := r.ledger.SaveSignal(ctx, lock); err != nil {
		r.log.Warn("recording risk lock", "rule", lock.Rule, "error", err)
	}

	report := &domain.ExecutionReport{
		OrderID:     uuid.NewString(),
		Venue:       intent.Venue,
		AccountID:   intent.AccountID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		OrderType:   intent.OrderType,
		TimeInForce: intent.EffectiveTIF(),
		Status:      domain.OrderStatusRejected,
		Quantity:    intent.Quantity,
		Price:       intent.Price,
		SubmittedAt: now,
		Tags:        append([]string(nil), intent.Tags...),
		Reason:      fmt.Sprintf("%s: %s", lock.Rule, lock.Reason),
	}

	entry := entryFromIntent(intent, report.OrderID, now)
	if err := r.ledger.CreateEntry(ctx, entry); err != nil {
		r.log.Error("recording risk-locked order", "order_id", report.OrderID, "error", err)
	} else {
		r.appendHistory(ctx, report.OrderID,
			statusStep{domain.LedgerStatusRiskChecked, ""},
			statusStep{domain.LedgerStatusLockedRejected, report.Reason},
		)
	}

	r.log.Info("order risk locked",
		"account", intent.AccountID, "symbol", intent.Symbol,
		"rule", lock.Rule, "reason", lock.Reason)
	return report, &RiskLockedError{Signal: lock, Report: report}
}

// recordFailure writes a terminal adapter-failure ledger entry. The order
// was never accepted, so account state stays untouched.
func (r *Router) recordFailure(ctx context.Context, intent *domain.ExecutionIntent, cause error, now time.Time) {
	var ae *AdapterError
	var at *AdapterTimeoutError
	if !errors.As(cause, &ae) && !errors.As(cause, &at) {
		return
	}

	orderID := uuid.NewString()
	entry := entryFromIntent(intent, orderID, now)
	if err := r.ledger.CreateEntry(ctx, entry); err != nil {
		r.log.Error("recording adapter failure", "order_id", orderID, "error", err)
		return
	}
	r.appendHistory(ctx, orderID,
		statusStep{domain.LedgerStatusRiskChecked, ""},
		statusStep{domain.LedgerStatusSubmitted, ""},
		statusStep{domain.LedgerStatusAdapterFailed, cause.Error()},
	)
}

// persistAccepted writes the accepted order and its fills to the ledger. A
// failure here after the venue accepted must not silently drop the fill:
// the entry is left in needs_reconciliation and a PersistenceError surfaces.
func (r *Router) persistAccepted(ctx context.Context, intent *domain.ExecutionIntent, report *domain.ExecutionReport, now time.Time) error {
	entry := entryFromIntent(intent, report.OrderID, now)
	if err := r.ledger.CreateEntry(ctx, entry); err != nil {
		return &PersistenceError{Op: "create entry", Err: err}
	}

	steps := []statusStep{
		{domain.LedgerStatusRiskChecked, ""},
		{domain.LedgerStatusSubmitted, ""},
	}
	switch report.Status {
	case domain.OrderStatusRejected:
		steps = append(steps, statusStep{string(domain.OrderStatusRejected), report.Reason})
	default:
		steps = append(steps, statusStep{string(domain.OrderStatusAccepted), ""})
	}
	if err := r.appendHistory(ctx, report.OrderID, steps...); err != nil {
		r.markReconcile(report.OrderID)
		return &PersistenceError{Op: "status history", Err: err}
	}

	for _, fill := range report.Fills {
		if err := r.ledger.AppendFill(ctx, report.OrderID, fill); err != nil {
			r.markReconcile(report.OrderID)
			return &PersistenceError{Op: "append fill", Err: err}
		}
	}
	return nil
}

type statusStep struct {
	status string
	reason string
}

func (r *Router) appendHistory(ctx context.Context, orderID string, steps ...statusStep) error {
	for _, step := range steps {
		if err := r.ledger.AppendStatus(ctx, orderID, step.status, step.reason); err != nil {
			return err
		}
	}
	return nil
}

// markReconcile flags an order whose venue submission succeeded but whose
// ledger record is incomplete. Best effort; uses a fresh context because
// the request context may already be dead.
func (r *Router) markReconcile(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.ledger.AppendStatus(ctx, orderID, domain.LedgerStatusReconcile, "ledger write failed after venue acceptance"); err != nil {
		r.log.Error("flagging order for reconciliation", "order_id", orderID, "error", err)
	}
}

// replay converts a stored idempotency outcome back into the original
// response shape.
func (r *Router) replay(prior *idempotency.Outcome) (*domain.ExecutionReport, error) {
	if prior.LockSignal != nil {
		return prior.Report, &RiskLockedError{Signal: *prior.LockSignal, Report: prior.Report}
	}
	return prior.Report, nil
}

// CancelOrder looks the order up in the ledger, forwards the cancellation
// to its venue, and records the transition. Cancellation is best-effort:
// if the venue already finalized a fill the ledger reflects the fill.
func (r *Router) CancelOrder(ctx context.Context, orderID string) (*domain.ExecutionReport, error) {
	entry, err := r.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !cancellable(entry.Status) {
		return nil, &NotCancellableError{OrderID: orderID, Status: entry.Status}
	}

	adapter, ok := r.registry.Get(entry.Venue)
	if !ok {
		return nil, &UnknownVenueError{Venue: entry.Venue}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.adapterTimeout)
	defer cancel()
	status, err := adapter.Cancel(callCtx, orderID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &AdapterTimeoutError{Venue: entry.Venue, Err: err}
		}
		return nil, &AdapterError{Venue: entry.Venue, Err: err}
	}

	switch status {
	case venue.CancelOK:
		if err := r.ledger.AppendStatus(ctx, orderID, string(domain.OrderStatusCancelled), ""); err != nil {
			return nil, &PersistenceError{Op: "cancel status", Err: err}
		}
	case venue.CancelNotFound:
		return nil, ledger.ErrNotFound
	case venue.CancelNotCancellable:
		// Lost the race: the venue finalized first. Return the current view.
		latest, err := r.ledger.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &NotCancellableError{OrderID: orderID, Status: latest.Status}
	}

	latest, err := r.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ReportFromEntry(latest), nil
}

// HandleVenueFill ingests an asynchronous fill from a venue adapter (staged
// resting orders) into the ledger.
func (r *Router) HandleVenueFill(orderID string, fill domain.Fill, _ *domain.ExecutionReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.ledger.AppendFill(ctx, orderID, fill); err != nil {
		r.log.Error("recording venue fill", "order_id", orderID, "error", err)
	}
}

// UpdateQuote publishes a new last price and forwards the tick to adapters
// holding resting orders, which may fill chunks and report them through the
// fill callback.
func (r *Router) UpdateQuote(symbol string, price float64) error {
	if symbol == "" {
		return &ValidationError{Reason: "symbol is required"}
	}
	if price <= 0 {
		return &ValidationError{Reason: "price must be positive"}
	}
	r.quotes.SetQuote(symbol, price)
	for _, a := range r.registry.All() {
		if t, ok := a.(venue.Ticker); ok {
			t.Tick(symbol, price)
		}
	}
	return nil
}

// GetOrder returns the full ledger entry for one order.
func (r *Router) GetOrder(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	return r.ledger.Get(ctx, orderID)
}

// AppendNote adds a note and tags to an order's ledger entry.
func (r *Router) AppendNote(ctx context.Context, orderID, text string, tags []string) (*domain.LedgerEntry, error) {
	if err := r.ledger.AppendNote(ctx, orderID, text, tags); err != nil {
		return nil, err
	}
	return r.ledger.Get(ctx, orderID)
}

// QueryLog returns ledger entries matching the filter.
func (r *Router) QueryLog(ctx context.Context, f ledger.Filter) ([]domain.LedgerEntry, error) {
	return r.ledger.Query(ctx, f)
}

// Executions returns the aggregated fills view.
func (r *Router) Executions(ctx context.Context, f ledger.Filter) ([]domain.Execution, error) {
	return r.ledger.Executions(ctx, f)
}

// State returns the current operating state.
func (r *Router) State() domain.OperatingState {
	return r.state.Get()
}

// SetState updates the operating mode and daily notional limit.
func (r *Router) SetState(state domain.OperatingState) error {
	switch state.Mode {
	case domain.ModePaper, domain.ModeLive:
	default:
		return &ValidationError{Reason: fmt.Sprintf("invalid mode %q", state.Mode)}
	}
	if state.DailyNotionalLimit < 0 {
		return &ValidationError{Reason: "daily notional limit must not be negative"}
	}
	r.state.Set(state)
	r.log.Info("operating state updated",
		"mode", state.Mode, "daily_notional_limit", state.DailyNotionalLimit)
	return nil
}

// AccountRisk returns the account's current risk state and recent signals.
func (r *Router) AccountRisk(ctx context.Context, accountID string) (*domain.AccountRiskState, []domain.RiskSignal, error) {
	state := r.accounts.Snapshot(accountID)
	signals, err := r.ledger.ListSignals(ctx, accountID, 100)
	if err != nil {
		return nil, nil, err
	}
	return state, signals, nil
}

// ResetAccount zeroes the account's risk counters (explicit operator
// action).
func (r *Router) ResetAccount(accountID string) *domain.AccountRiskState {
	r.log.Info("account risk state reset", "account", accountID)
	return r.accounts.Reset(accountID)
}

// referencePrice resolves the price used for notional computation: the
// limit price, or the last quote for market orders.
func (r *Router) referencePrice(intent *domain.ExecutionIntent) (float64, error) {
	if intent.OrderType == domain.OrderTypeLimit && intent.Price > 0 {
		return intent.Price, nil
	}
	px, ok := r.quotes.Quote(intent.Symbol)
	if !ok {
		return 0, &UnknownSymbolError{Symbol: intent.Symbol}
	}
	return px, nil
}

// cancellable reports whether the ledger status permits cancellation.
func cancellable(status string) bool {
	return status == string(domain.OrderStatusAccepted) ||
		status == string(domain.OrderStatusPartiallyFilled)
}

func isRiskLock(err error) bool {
	var rl *RiskLockedError
	return errors.As(err, &rl)
}

func isPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// entryFromIntent builds the ledger entry shell for a routed intent.
func entryFromIntent(intent *domain.ExecutionIntent, orderID string, now time.Time) *domain.LedgerEntry {
	entry := &domain.LedgerEntry{
		OrderID:    orderID,
		AccountID:  intent.AccountID,
		Venue:      intent.Venue,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		OrderType:  intent.OrderType,
		Quantity:   intent.Quantity,
		Price:      intent.Price,
		Status:     domain.LedgerStatusPending,
		StrategyID: intent.StrategyID,
		Tags:       append([]string(nil), intent.Tags...),
		CreatedAt:  now,
	}
	if intent.Notes != "" {
		entry.Notes = []domain.Note{{Text: intent.Notes, At: now}}
	}
	return entry
}

// ReportFromEntry rebuilds a caller-facing report from a ledger entry.
func ReportFromEntry(entry *domain.LedgerEntry) *domain.ExecutionReport {
	report := &domain.ExecutionReport{
		OrderID:     entry.OrderID,
		Venue:       entry.Venue,
		AccountID:   entry.AccountID,
		Symbol:      entry.Symbol,
		Side:        entry.Side,
		OrderType:   entry.OrderType,
		Status:      domain.OrderStatus(entry.Status),
		Quantity:    entry.Quantity,
		Price:       entry.Price,
		SubmittedAt: entry.CreatedAt,
		Tags:        append([]string(nil), entry.Tags...),
	}
	var qty, notional float64
	for _, f := range entry.Fills {
		qty += f.Quantity
		notional += f.Quantity * f.Price
		report.Fills = append(report.Fills, f)
	}
	report.FilledQuantity = qty
	if qty > 0 {
		report.AvgPrice = notional / qty
	}
	return report
}
