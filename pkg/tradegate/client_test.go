package tradegate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitOrderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "transient"})
			return
		}
		var intent ExecutionIntent
		json.NewDecoder(r.Body).Decode(&intent)
		if intent.IdempotencyKey != "key-1" {
			t.Errorf("idempotency key = %q, want key-1 on every attempt", intent.IdempotencyKey)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ExecutionReport{OrderID: "o1", Status: OrderStatus("filled")})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond))
	report, err := c.SubmitOrder(context.Background(), &ExecutionIntent{
		Venue: "instant", Symbol: "AAPL", Side: SideBuy, Quantity: 1,
		OrderType: TypeMarket, AccountID: "acct-1", IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if report.OrderID != "o1" {
		t.Errorf("order id = %q", report.OrderID)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSubmitOrderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "risk locked",
			"kind":   "risk_locked",
			"report": ExecutionReport{OrderID: "o1", Status: OrderStatus("rejected")},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond))
	_, err := c.SubmitOrder(context.Background(), &ExecutionIntent{
		Venue: "instant", Symbol: "AAPL", Side: SideBuy, Quantity: 1,
		OrderType: TypeMarket, AccountID: "acct-1",
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Kind != "risk_locked" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if apiErr.Report == nil || apiErr.Report.OrderID != "o1" {
		t.Errorf("report = %+v, want rejected report attached", apiErr.Report)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want no retry on 4xx", calls)
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	if (&APIError{StatusCode: 404}).Retryable() {
		t.Error("404 should not be retryable")
	}
	if !(&APIError{StatusCode: 503}).Retryable() {
		t.Error("503 should be retryable")
	}
}

func TestOrderLogFilterEncoding(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"orders": []LedgerEntry{{OrderID: "o1"}}, "count": 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	from := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	entries, err := c.OrderLog(context.Background(), LogFilter{
		AccountID:  "acct-1",
		Symbol:     "AAPL",
		Tag:        "momentum",
		StrategyID: "momo-1",
		From:       from,
	})
	if err != nil {
		t.Fatalf("OrderLog: %v", err)
	}
	if len(entries) != 1 || entries[0].OrderID != "o1" {
		t.Errorf("entries = %+v", entries)
	}

	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	want := map[string]string{
		"account":  "acct-1",
		"symbol":   "AAPL",
		"tag":      "momentum",
		"strategy": "momo-1",
		"from":     "2026-03-02T09:30:00Z",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
		}
	}
	if q.Has("to") {
		t.Error("zero To should be omitted")
	}
}

func TestGetOrderAndNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/orders/o1":
			json.NewEncoder(w).Encode(LedgerEntry{OrderID: "o1", Symbol: "AAPL"})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "order not found"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	entry, err := c.GetOrder(context.Background(), "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if entry.Symbol != "AAPL" {
		t.Errorf("entry = %+v", entry)
	}

	_, err = c.GetOrder(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404 APIError", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			var state OperatingState
			json.NewDecoder(r.Body).Decode(&state)
			json.NewEncoder(w).Encode(state)
			return
		}
		json.NewEncoder(w).Encode(OperatingState{Mode: ModePaper, DailyNotionalLimit: 1000})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	state, err := c.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Mode != ModePaper {
		t.Errorf("mode = %q", state.Mode)
	}

	updated, err := c.SetState(context.Background(), OperatingState{Mode: ModeLive, DailyNotionalLimit: 5000})
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if updated.Mode != ModeLive || updated.DailyNotionalLimit != 5000 {
		t.Errorf("updated = %+v", updated)
	}
}

func TestSubmitOrderContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, WithRetry(3, 50*time.Millisecond))
	_, err := c.SubmitOrder(ctx, &ExecutionIntent{
		Venue: "instant", Symbol: "AAPL", Side: SideBuy, Quantity: 1,
		OrderType: TypeMarket, AccountID: "acct-1",
	})
	if err == nil {
		t.Fatal("want error with cancelled context")
	}
}
