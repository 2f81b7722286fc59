package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradegate/internal/account"
	"tradegate/internal/domain"
	"tradegate/internal/idempotency"
	"tradegate/internal/ledger"
	"tradegate/internal/risk"
	"tradegate/internal/venue"
)

// flakyAdapter fails a configurable number of Place calls before delegating
// to an instant adapter.
type flakyAdapter struct {
	inner    *venue.InstantAdapter
	failures int32
	placed   int32
}

func (f *flakyAdapter) Name() string { return "flaky" }

func (f *flakyAdapter) Place(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, errors.New("connection reset")
	}
	atomic.AddInt32(&f.placed, 1)
	return f.inner.Place(ctx, intent)
}

func (f *flakyAdapter) Cancel(ctx context.Context, orderID string) (venue.CancelStatus, error) {
	return f.inner.Cancel(ctx, orderID)
}

var _ venue.Adapter = (*flakyAdapter)(nil)

type testRig struct {
	rt       *Router
	store    *ledger.SQLiteStore
	staged   *venue.StagedAdapter
	flaky    *flakyAdapter
	accounts *account.Manager
	state    *StateHandle
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	store, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	quotes := venue.NewQuoteSource(map[string]float64{"AAPL": 190, "MSFT": 420})
	instant := venue.NewInstantAdapter("instant", quotes)
	staged := venue.NewStagedAdapter("staged", venue.StagedConfig{Ratios: []float64{0.6, 0.4}}, quotes)
	flaky := &flakyAdapter{inner: instant}
	live := venue.NewInstantAdapter("alpaca", quotes) // live-gated in this rig

	state := NewStateHandle(domain.OperatingState{Mode: domain.ModePaper, DailyNotionalLimit: 1_000_000})
	engine := risk.NewEngine(
		&risk.MaxNotionalRule{
			SymbolCaps: map[string]float64{"MSFT": 50_000},
			DefaultCap: state.DailyNotionalLimit,
			WarnRatio:  0.8,
		},
		&risk.DailyLossRule{DefaultStopLoss: 10_000},
	)
	accounts := account.NewManager(0, time.UTC)

	rt := New(Options{
		Registry:       venue.NewRegistry(instant, staged, flaky, live),
		Engine:         engine,
		Accounts:       accounts,
		Idem:           idempotency.NewStore(time.Hour),
		Ledger:         store,
		Quotes:         quotes,
		State:          state,
		Log:            slog.New(slog.DiscardHandler),
		LiveVenues:     map[string]bool{"alpaca": true},
		AdapterTimeout: 2 * time.Second,
	})
	staged.OnFill = rt.HandleVenueFill

	return &testRig{rt: rt, store: store, staged: staged, flaky: flaky, accounts: accounts, state: state}
}

func marketBuy(account string, qty float64) *domain.ExecutionIntent {
	return &domain.ExecutionIntent{
		Venue:     "instant",
		Symbol:    "AAPL",
		Side:      domain.OrderSideBuy,
		Quantity:  qty,
		OrderType: domain.OrderTypeMarket,
		AccountID: account,
	}
}

func TestSubmitOrderFillsAndRecords(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := marketBuy("acct-1", 10)
	intent.StrategyID = "momo-1"
	intent.Tags = []string{"momentum"}

	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if report.Status != domain.OrderStatusFilled {
		t.Errorf("status = %q, want filled", report.Status)
	}
	if report.FilledQuantity != 10 || report.AvgPrice != 190 {
		t.Errorf("fill = %v @ %v", report.FilledQuantity, report.AvgPrice)
	}

	entry, err := rig.store.Get(ctx, report.OrderID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if entry.Status != string(domain.OrderStatusFilled) {
		t.Errorf("ledger status = %q, want filled", entry.Status)
	}
	wantHistory := []string{
		domain.LedgerStatusPending,
		domain.LedgerStatusRiskChecked,
		domain.LedgerStatusSubmitted,
		string(domain.OrderStatusAccepted),
		string(domain.OrderStatusFilled),
	}
	if len(entry.StatusHistory) != len(wantHistory) {
		t.Fatalf("history = %d steps, want %d", len(entry.StatusHistory), len(wantHistory))
	}
	for i, sc := range entry.StatusHistory {
		if sc.Status != wantHistory[i] {
			t.Errorf("history[%d] = %q, want %q", i, sc.Status, wantHistory[i])
		}
	}
	if len(entry.Fills) != 1 {
		t.Errorf("fills = %d, want 1", len(entry.Fills))
	}
	if entry.StrategyID != "momo-1" || len(entry.Tags) != 1 {
		t.Errorf("entry strategy/tags = %q/%v", entry.StrategyID, entry.Tags)
	}

	snap := rig.accounts.Snapshot("acct-1")
	if got := snap.Exposure["AAPL"]; got != 10*190 {
		t.Errorf("exposure = %v, want %v", got, 10*190.0)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	rig := newTestRig(t)

	intent := marketBuy("acct-1", 0) // zero quantity
	_, err := rig.rt.SubmitOrder(context.Background(), intent)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestSubmitOrderUnknownVenue(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := marketBuy("acct-1", 1)
	intent.Venue = "nyse"
	var uv *UnknownVenueError
	if _, err := rig.rt.SubmitOrder(ctx, intent); !errors.As(err, &uv) {
		t.Fatalf("err = %v, want UnknownVenueError", err)
	}
}

func TestLiveVenueGatedByMode(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := marketBuy("acct-1", 1)
	intent.Venue = "alpaca"
	var uv *UnknownVenueError
	if _, err := rig.rt.SubmitOrder(ctx, intent); !errors.As(err, &uv) {
		t.Fatalf("paper mode err = %v, want UnknownVenueError", err)
	}

	if err := rig.rt.SetState(domain.OperatingState{Mode: domain.ModeLive, DailyNotionalLimit: 1_000_000}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("live mode submit: %v", err)
	}
	if report.Status != domain.OrderStatusFilled {
		t.Errorf("status = %q, want filled", report.Status)
	}
}

func TestReplaySurvivesModeFlip(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.rt.SetState(domain.OperatingState{Mode: domain.ModeLive, DailyNotionalLimit: 1_000_000})

	intent := marketBuy("acct-1", 5)
	intent.Venue = "alpaca"
	intent.IdempotencyKey = "flip-key"
	first, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("live submit: %v", err)
	}

	// Dropping back to paper gates the venue, but the recorded outcome still
	// replays: deduplication happens before the venue lookup.
	rig.rt.SetState(domain.OperatingState{Mode: domain.ModePaper, DailyNotionalLimit: 1_000_000})
	second, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("replay after mode flip: %v", err)
	}
	if second.OrderID != first.OrderID {
		t.Errorf("replay order id = %s, want %s", second.OrderID, first.OrderID)
	}

	// A fresh key against the gated venue still fails, and the released
	// claim does not wedge later retries.
	fresh := marketBuy("acct-1", 5)
	fresh.Venue = "alpaca"
	fresh.IdempotencyKey = "fresh-key"
	var uv *UnknownVenueError
	if _, err := rig.rt.SubmitOrder(ctx, fresh); !errors.As(err, &uv) {
		t.Fatalf("gated submit err = %v, want UnknownVenueError", err)
	}
	rig.rt.SetState(domain.OperatingState{Mode: domain.ModeLive, DailyNotionalLimit: 1_000_000})
	if _, err := rig.rt.SubmitOrder(ctx, fresh); err != nil {
		t.Fatalf("retry after gate lifted: %v", err)
	}
}

func TestSubmitOrderUnknownSymbol(t *testing.T) {
	rig := newTestRig(t)

	intent := marketBuy("acct-1", 1)
	intent.Symbol = "ZZZZ"
	var us *UnknownSymbolError
	if _, err := rig.rt.SubmitOrder(context.Background(), intent); !errors.As(err, &us) {
		t.Fatalf("err = %v, want UnknownSymbolError", err)
	}
}

func TestRiskLockRejectsAndRecords(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// 200 * 420 = 84,000 > the 50,000 MSFT cap.
	intent := marketBuy("acct-1", 200)
	intent.Symbol = "MSFT"

	report, err := rig.rt.SubmitOrder(ctx, intent)
	var rl *RiskLockedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RiskLockedError", err)
	}
	if report == nil || report.Status != domain.OrderStatusRejected {
		t.Fatalf("report = %+v, want rejected", report)
	}
	if rl.Signal.Rule != "max_notional" {
		t.Errorf("lock rule = %q", rl.Signal.Rule)
	}

	entry, err := rig.store.Get(ctx, report.OrderID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if entry.Status != domain.LedgerStatusLockedRejected {
		t.Errorf("ledger status = %q, want locked_rejected", entry.Status)
	}

	sigs, err := rig.store.ListSignals(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Severity != domain.SeverityLock {
		t.Errorf("signals = %+v, want one lock", sigs)
	}

	if got := rig.accounts.Snapshot("acct-1").Exposure["MSFT"]; got != 0 {
		t.Errorf("exposure after lock = %v, want 0", got)
	}
}

func TestConcurrentOrdersSerializeAgainstCap(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Each order is 80 * 420 = 33,600 notional against the 50,000 MSFT cap:
	// the first admitted order exhausts the headroom, so every other
	// submission must lock regardless of interleaving.
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := marketBuy("acct-1", 80)
			intent.Symbol = "MSFT"
			_, errs[i] = rig.rt.SubmitOrder(ctx, intent)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			admitted++
			continue
		}
		var rl *RiskLockedError
		if !errors.As(errs[i], &rl) {
			t.Errorf("submit %d err = %v, want RiskLockedError", i, errs[i])
		}
	}
	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted)
	}
	if got := rig.accounts.Snapshot("acct-1").Exposure["MSFT"]; got > 50_000 {
		t.Errorf("exposure = %v, exceeds the 50,000 cap", got)
	}
}

func TestWarnAlertPersistedOrderProceeds(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// 100 * 420 = 42,000: above the 0.8*50,000 warn line, below the cap.
	intent := marketBuy("acct-1", 100)
	intent.Symbol = "MSFT"

	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if report.Status != domain.OrderStatusFilled {
		t.Errorf("status = %q, want filled", report.Status)
	}

	sigs, err := rig.store.ListSignals(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Severity != domain.SeverityAlert {
		t.Errorf("signals = %+v, want one alert", sigs)
	}
}

func TestIdempotentReplay(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := marketBuy("acct-1", 5)
	intent.IdempotencyKey = "key-1"

	first, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.OrderID != first.OrderID {
		t.Errorf("replay order id = %s, want %s", second.OrderID, first.OrderID)
	}

	entries, err := rig.store.Query(ctx, ledger.Filter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}
	if got := rig.accounts.Snapshot("acct-1").Exposure["AAPL"]; got != 5*190 {
		t.Errorf("exposure = %v, want applied once", got)
	}
}

func TestIdempotentConcurrentDuplicates(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	const n = 12
	reports := make([]*domain.ExecutionReport, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := marketBuy("acct-1", 5)
			intent.IdempotencyKey = "dup"
			reports[i], errs[i] = rig.rt.SubmitOrder(ctx, intent)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		if reports[i].OrderID != reports[0].OrderID {
			t.Errorf("submit %d order id = %s, want %s", i, reports[i].OrderID, reports[0].OrderID)
		}
	}

	entries, err := rig.store.Query(ctx, ledger.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want exactly one execution", len(entries))
	}
}

func TestRiskLockedReplayKeepsShape(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := marketBuy("acct-1", 200)
	intent.Symbol = "MSFT"
	intent.IdempotencyKey = "locked-key"

	first, err := rig.rt.SubmitOrder(ctx, intent)
	var rl *RiskLockedError
	if !errors.As(err, &rl) {
		t.Fatalf("first err = %v, want RiskLockedError", err)
	}

	firstSignal := rl.Signal

	second, err := rig.rt.SubmitOrder(ctx, intent)
	if !errors.As(err, &rl) {
		t.Fatalf("replay err = %v, want RiskLockedError", err)
	}
	if second.OrderID != first.OrderID {
		t.Errorf("replay order id = %s, want %s", second.OrderID, first.OrderID)
	}
	// The replayed signal is the recorded one, not a reconstruction.
	if rl.Signal.Rule != firstSignal.Rule || rl.Signal.Reason != firstSignal.Reason {
		t.Errorf("replayed signal = %+v, want %+v", rl.Signal, firstSignal)
	}
	if rl.Signal.Severity != domain.SeverityLock || rl.Signal.Rule != "max_notional" {
		t.Errorf("replayed signal = %+v", rl.Signal)
	}
	if !rl.Signal.CreatedAt.Equal(firstSignal.CreatedAt) {
		t.Errorf("replayed CreatedAt = %v, want %v", rl.Signal.CreatedAt, firstSignal.CreatedAt)
	}

	entries, _ := rig.store.Query(ctx, ledger.Filter{})
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}
}

func TestAdapterFailureReleasesClaim(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.flaky.failures = 1

	intent := marketBuy("acct-1", 5)
	intent.Venue = "flaky"
	intent.IdempotencyKey = "retry-key"

	_, err := rig.rt.SubmitOrder(ctx, intent)
	var ae *AdapterError
	if !errors.As(err, &ae) {
		t.Fatalf("first err = %v, want AdapterError", err)
	}

	// Failure leaves a terminal adapter_failed record.
	entries, _ := rig.store.Query(ctx, ledger.Filter{})
	if len(entries) != 1 || entries[0].Status != domain.LedgerStatusAdapterFailed {
		t.Fatalf("entries after failure = %+v", entries)
	}
	if got := rig.accounts.Snapshot("acct-1").Exposure["AAPL"]; got != 0 {
		t.Errorf("exposure after failure = %v, want 0", got)
	}

	// The claim was released, so the retry re-executes.
	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if report.Status != domain.OrderStatusFilled {
		t.Errorf("retry status = %q, want filled", report.Status)
	}
	if atomic.LoadInt32(&rig.flaky.placed) != 1 {
		t.Errorf("venue executions = %d, want 1", rig.flaky.placed)
	}

	entries, _ = rig.store.Query(ctx, ledger.Filter{})
	if len(entries) != 2 {
		t.Errorf("entries after retry = %d, want failure record plus fill", len(entries))
	}
}

func TestVenueRejectionLeavesStateUntouched(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// IOC limit below the market cannot fill on the staged venue and is
	// rejected rather than rested.
	intent := &domain.ExecutionIntent{
		Venue:       "staged",
		Symbol:      "AAPL",
		Side:        domain.OrderSideBuy,
		Quantity:    10,
		OrderType:   domain.OrderTypeLimit,
		Price:       180,
		TimeInForce: domain.TimeInForceIOC,
		AccountID:   "acct-1",
	}
	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if report.Status != domain.OrderStatusRejected {
		t.Fatalf("status = %q, want rejected", report.Status)
	}

	entry, err := rig.store.Get(ctx, report.OrderID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if entry.Status != string(domain.OrderStatusRejected) {
		t.Errorf("ledger status = %q", entry.Status)
	}
	if got := rig.accounts.Snapshot("acct-1").Exposure["AAPL"]; got != 0 {
		t.Errorf("exposure = %v, want 0", got)
	}
}

func TestCancelRestingOrder(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := &domain.ExecutionIntent{
		Venue:     "staged",
		Symbol:    "AAPL",
		Side:      domain.OrderSideBuy,
		Quantity:  10,
		OrderType: domain.OrderTypeLimit,
		Price:     180, // below market: rests
		AccountID: "acct-1",
	}
	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if report.Status != domain.OrderStatusAccepted {
		t.Fatalf("status = %q, want accepted", report.Status)
	}

	cancelled, err := rig.rt.CancelOrder(ctx, report.OrderID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("cancelled status = %q", cancelled.Status)
	}

	var nc *NotCancellableError
	if _, err := rig.rt.CancelOrder(ctx, report.OrderID); !errors.As(err, &nc) {
		t.Errorf("second cancel = %v, want NotCancellableError", err)
	}
}

func TestCancelFilledOrder(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	report, err := rig.rt.SubmitOrder(ctx, marketBuy("acct-1", 5))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	var nc *NotCancellableError
	if _, err := rig.rt.CancelOrder(ctx, report.OrderID); !errors.As(err, &nc) {
		t.Errorf("cancel filled = %v, want NotCancellableError", err)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	rig := newTestRig(t)
	if _, err := rig.rt.CancelOrder(context.Background(), "does-not-exist"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStagedTickFillsReachLedger(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := &domain.ExecutionIntent{
		Venue:     "staged",
		Symbol:    "AAPL",
		Side:      domain.OrderSideBuy,
		Quantity:  10,
		OrderType: domain.OrderTypeLimit,
		Price:     180,
		AccountID: "acct-1",
	}
	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	rig.staged.Tick("AAPL", 179) // first chunk
	rig.staged.Tick("AAPL", 179) // second chunk

	entry, err := rig.store.Get(ctx, report.OrderID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if entry.Status != string(domain.OrderStatusFilled) {
		t.Errorf("status = %q, want filled after two ticks", entry.Status)
	}
	if len(entry.Fills) != 2 {
		t.Errorf("fills = %d, want 2", len(entry.Fills))
	}
}

func TestUpdateQuoteAdvancesRestingOrders(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	intent := &domain.ExecutionIntent{
		Venue:     "staged",
		Symbol:    "AAPL",
		Side:      domain.OrderSideBuy,
		Quantity:  10,
		OrderType: domain.OrderTypeLimit,
		Price:     180,
		AccountID: "acct-1",
	}
	report, err := rig.rt.SubmitOrder(ctx, intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if err := rig.rt.UpdateQuote("AAPL", 179); err != nil {
		t.Fatalf("UpdateQuote: %v", err)
	}
	if err := rig.rt.UpdateQuote("AAPL", 178); err != nil {
		t.Fatalf("UpdateQuote: %v", err)
	}

	entry, err := rig.store.Get(ctx, report.OrderID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if entry.Status != string(domain.OrderStatusFilled) {
		t.Errorf("status = %q, want filled after two quote updates", entry.Status)
	}

	var ve *ValidationError
	if err := rig.rt.UpdateQuote("", 179); !errors.As(err, &ve) {
		t.Errorf("empty symbol err = %v, want ValidationError", err)
	}
	if err := rig.rt.UpdateQuote("AAPL", 0); !errors.As(err, &ve) {
		t.Errorf("zero price err = %v, want ValidationError", err)
	}
}

func TestSetStateValidation(t *testing.T) {
	rig := newTestRig(t)

	var ve *ValidationError
	if err := rig.rt.SetState(domain.OperatingState{Mode: "turbo"}); !errors.As(err, &ve) {
		t.Errorf("invalid mode err = %v", err)
	}
	if err := rig.rt.SetState(domain.OperatingState{Mode: domain.ModePaper, DailyNotionalLimit: -1}); !errors.As(err, &ve) {
		t.Errorf("negative limit err = %v", err)
	}
	if err := rig.rt.SetState(domain.OperatingState{Mode: domain.ModeLive, DailyNotionalLimit: 5000}); err != nil {
		t.Errorf("valid state err = %v", err)
	}
	if got := rig.rt.State(); got.Mode != domain.ModeLive || got.DailyNotionalLimit != 5000 {
		t.Errorf("state = %+v", got)
	}
}

func TestStateLimitFeedsRiskRule(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if err := rig.rt.SetState(domain.OperatingState{Mode: domain.ModePaper, DailyNotionalLimit: 1000}); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	// 10 * 190 = 1900 > the lowered default cap.
	_, err := rig.rt.SubmitOrder(ctx, marketBuy("acct-1", 10))
	var rl *RiskLockedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RiskLockedError after limit change", err)
	}
}

func TestAccountRiskAndReset(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.rt.SubmitOrder(ctx, marketBuy("acct-1", 10)); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	state, sigs, err := rig.rt.AccountRisk(ctx, "acct-1")
	if err != nil {
		t.Fatalf("AccountRisk: %v", err)
	}
	if state.Exposure["AAPL"] != 10*190 {
		t.Errorf("exposure = %v", state.Exposure["AAPL"])
	}
	if len(sigs) != 0 {
		t.Errorf("signals = %+v, want none", sigs)
	}

	reset := rig.rt.ResetAccount("acct-1")
	if reset.Exposure["AAPL"] != 0 {
		t.Errorf("exposure after reset = %v", reset.Exposure["AAPL"])
	}
}

func TestAppendNoteReturnsUpdatedEntry(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	report, err := rig.rt.SubmitOrder(ctx, marketBuy("acct-1", 1))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	entry, err := rig.rt.AppendNote(ctx, report.OrderID, "good fill", []string{"reviewed"})
	if err != nil {
		t.Fatalf("AppendNote: %v", err)
	}
	if len(entry.Notes) != 1 || entry.Notes[0].Text != "good fill" {
		t.Errorf("notes = %+v", entry.Notes)
	}
	found := false
	for _, tag := range entry.Tags {
		if tag == "reviewed" {
			found = true
		}
	}
	if !found {
		t.Errorf("tags = %v, want reviewed", entry.Tags)
	}
}

func TestQueryLogAndExecutions(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		intent := marketBuy("acct-1", float64(i+1))
		intent.Tags = []string{fmt.Sprintf("batch-%d", i)}
		if _, err := rig.rt.SubmitOrder(ctx, intent); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	entries, err := rig.rt.QueryLog(ctx, ledger.Filter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("QueryLog: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("entries = %d, want 3", len(entries))
	}

	tagged, err := rig.rt.QueryLog(ctx, ledger.Filter{Tag: "batch-1"})
	if err != nil {
		t.Fatalf("QueryLog tag: %v", err)
	}
	if len(tagged) != 1 {
		t.Errorf("tagged entries = %d, want 1", len(tagged))
	}

	execs, err := rig.rt.Executions(ctx, ledger.Filter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(execs) != 3 {
		t.Errorf("executions = %d, want 3", len(execs))
	}
}
