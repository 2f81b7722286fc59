// Package tradegate provides a Go SDK for the tradegate routing API.
package tradegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/util"
)

// Client talks to a tradegate server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// retryAttempts applies to submissions failing on transport or 5xx;
	// requests carry an idempotency key so retries never double-execute.
	retryAttempts int
	retryDelay    time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy for submissions.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = baseDelay
	}
}

// NewClient creates a new tradegate API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		retryAttempts: 3,
		retryDelay:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	Report     *domain.ExecutionReport
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether a retry with the same idempotency key can
// succeed. Only server-side failures qualify; 4xx outcomes are final.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}

// SubmitOrder submits an execution intent. Transport errors and 5xx
// responses are retried with the same idempotency key; the server
// deduplicates, so the caller observes exactly-once submission.
func (c *Client) SubmitOrder(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionReport, error) {
	var report domain.ExecutionReport
	err := util.Retry(ctx, c.retryAttempts, c.retryDelay, func() error {
		err := c.do(ctx, http.MethodPost, "/api/orders", intent, &report)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			// Terminal outcome; retrying a 4xx cannot change it.
			return &finalError{err: err}
		}
		return err
	})
	var fin *finalError
	if errors.As(err, &fin) {
		return nil, fin.err
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*domain.ExecutionReport, error) {
	var report domain.ExecutionReport
	if err := c.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(orderID)+"/cancel", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetOrder returns the full ledger entry for one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// AppendNote adds a note and tags to an order.
func (c *Client) AppendNote(ctx context.Context, orderID, text string, tags []string) (*domain.LedgerEntry, error) {
	body := map[string]any{"text": text, "tags": tags}
	var entry domain.LedgerEntry
	if err := c.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(orderID)+"/notes", body, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// LogFilter narrows OrderLog and Executions queries. Zero fields are
// omitted.
type LogFilter struct {
	AccountID  string
	Symbol     string
	Tag        string
	StrategyID string
	From       time.Time
	To         time.Time
}

func (f LogFilter) query() string {
	q := url.Values{}
	if f.AccountID != "" {
		q.Set("account", f.AccountID)
	}
	if f.Symbol != "" {
		q.Set("symbol", f.Symbol)
	}
	if f.Tag != "" {
		q.Set("tag", f.Tag)
	}
	if f.StrategyID != "" {
		q.Set("strategy", f.StrategyID)
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.Format(time.RFC3339))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// OrderLog returns ledger entries matching the filter, newest first.
func (c *Client) OrderLog(ctx context.Context, f LogFilter) ([]domain.LedgerEntry, error) {
	var resp struct {
		Orders []domain.LedgerEntry `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orders/log"+f.query(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// Executions returns the aggregated fills view.
func (c *Client) Executions(ctx context.Context, f LogFilter) ([]domain.Execution, error) {
	var resp struct {
		Executions []domain.Execution `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/executions"+f.query(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Executions, nil
}

// State returns the server's operating state.
func (c *Client) State(ctx context.Context) (*domain.OperatingState, error) {
	var state domain.OperatingState
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetState updates the server's operating state.
func (c *Client) SetState(ctx context.Context, state domain.OperatingState) (*domain.OperatingState, error) {
	var out domain.OperatingState
	if err := c.do(ctx, http.MethodPut, "/api/state", state, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountRisk returns the account's risk state and recent signals.
func (c *Client) AccountRisk(ctx context.Context, accountID string) (*domain.AccountRiskState, []domain.RiskSignal, error) {
	var resp struct {
		State   *domain.AccountRiskState `json:"state"`
		Signals []domain.RiskSignal      `json:"signals"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+url.PathEscape(accountID)+"/risk", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.State, resp.Signals, nil
}

// ResetAccount zeroes the account's daily risk counters.
func (c *Client) ResetAccount(ctx context.Context, accountID string) (*domain.AccountRiskState, error) {
	var state domain.AccountRiskState
	if err := c.do(ctx, http.MethodPost, "/api/accounts/"+url.PathEscape(accountID)+"/reset", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// do performs one request/response round trip with JSON bodies.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error  string                  `json:"error"`
			Kind   string                  `json:"kind"`
			Report *domain.ExecutionReport `json:"report"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err != nil {
			apiErr.Error = string(data)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Kind:       apiErr.Kind,
			Message:    apiErr.Error,
			Report:     apiErr.Report,
		}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// finalError stops the retry loop without losing the original error.
type finalError struct {
	err error
}

func (e *finalError) Error() string { return e.err.Error() }

func (e *finalError) Unwrap() error { return e.err }
