package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Ledger = (*SQLiteStore)(nil)

// timeLayout is RFC3339 with fixed nanosecond width so stored timestamps
// sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id    TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	venue       TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	order_type  TEXT NOT NULL,
	quantity    REAL NOT NULL,
	price       REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	strategy_id TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id);
CREATE INDEX IF NOT EXISTS idx_orders_symbol  ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

CREATE TABLE IF NOT EXISTS order_status_history (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	status   TEXT NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_order ON order_status_history(order_id);

CREATE TABLE IF NOT EXISTS fills (
	fill_id  TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	quantity REAL NOT NULL,
	price    REAL NOT NULL,
	ts       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);

CREATE TABLE IF NOT EXISTS order_notes (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	note     TEXT NOT NULL,
	at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_tags (
	order_id TEXT NOT NULL,
	tag      TEXT NOT NULL,
	UNIQUE(order_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON order_tags(tag);

CREATE TABLE IF NOT EXISTS risk_signals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	rule       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	symbol     TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_account ON risk_signals(account_id);
`

// SQLiteStore implements Ledger backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the ledger database at dbPath and
// applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Serialize writers; SQLite supports one at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateEntry inserts the order row, its initial status history entry, and
// any tags, in one transaction.
func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
		(order_id, account_id, venue, symbol, side, order_type, quantity, price, status, strategy_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.OrderID, entry.AccountID, entry.Venue, entry.Symbol, string(entry.Side),
		string(entry.OrderType), entry.Quantity, entry.Price, entry.Status,
		entry.StrategyID, createdAt.Format(timeLayout),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, reason, at) VALUES (?, ?, ?, ?)`,
		entry.OrderID, entry.Status, "", createdAt.Format(timeLayout),
	); err != nil {
		return err
	}

	for _, tag := range entry.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO order_tags (order_id, tag) VALUES (?, ?)`,
			entry.OrderID, tag,
		); err != nil {
			return err
		}
	}

	for _, note := range entry.Notes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_notes (order_id, note, at) VALUES (?, ?, ?)`,
			entry.OrderID, note.Text, note.At.UTC().Format(timeLayout),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AppendStatus records a status transition. Terminal orders reject further
// transitions.
func (s *SQLiteStore) AppendStatus(ctx context.Context, orderID, status, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := currentStatus(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if terminalStatus(current) {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, orderID, current)
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, reason, at) VALUES (?, ?, ?, ?)`,
		orderID, status, reason, now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_id = ?`, status, orderID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendFill records one fill against a non-terminal order and advances the
// current status to partially_filled or filled.
func (s *SQLiteStore) AppendFill(ctx context.Context, orderID string, fill domain.Fill) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := currentStatus(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if terminalStatus(current) {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, orderID, current)
	}

	var quantity, filled float64
	err = tx.QueryRowContext(ctx, `
		SELECT o.quantity, COALESCE(SUM(f.quantity), 0)
		FROM orders o LEFT JOIN fills f ON f.order_id = o.order_id
		WHERE o.order_id = ? GROUP BY o.order_id`, orderID,
	).Scan(&quantity, &filled)
	if err != nil {
		return err
	}
	const epsilon = 1e-9
	if filled+fill.Quantity > quantity+epsilon {
		return fmt.Errorf("fill of %v exceeds remaining quantity on %s", fill.Quantity, orderID)
	}

	fillID := fill.ID
	if fillID == "" {
		fillID = uuid.NewString()
	}
	ts := fill.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fills (fill_id, order_id, quantity, price, ts) VALUES (?, ?, ?, ?, ?)`,
		fillID, orderID, fill.Quantity, fill.Price, ts.UTC().Format(timeLayout),
	); err != nil {
		return err
	}

	status := string(domain.OrderStatusPartiallyFilled)
	if filled+fill.Quantity >= quantity-epsilon {
		status = string(domain.OrderStatusFilled)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, reason, at) VALUES (?, ?, ?, ?)`,
		orderID, status, "", ts.UTC().Format(timeLayout),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_id = ?`, status, orderID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendNote adds a note and optional tags; allowed on terminal orders.
func (s *SQLiteStore) AppendNote(ctx context.Context, orderID, text string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := currentStatus(ctx, tx, orderID); err != nil {
		return err
	}

	if text != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_notes (order_id, note, at) VALUES (?, ?, ?)`,
			orderID, text, time.Now().UTC().Format(timeLayout),
		); err != nil {
			return err
		}
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO order_tags (order_id, tag) VALUES (?, ?)`,
			orderID, tag,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns the full ledger entry for one order.
func (s *SQLiteStore) Get(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	entries, err := s.load(ctx, `WHERE o.order_id = ?`, []any{orderID}, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// Query returns entries matching the filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]domain.LedgerEntry, error) {
	where, args := buildFilter(f)
	return s.load(ctx, where, args, 0)
}

// Executions aggregates fills per order for entries matching the filter.
func (s *SQLiteStore) Executions(ctx context.Context, f Filter) ([]domain.Execution, error) {
	where, args := buildFilter(f)
	query := `
		SELECT o.order_id, o.account_id, o.symbol, o.side,
		       SUM(f.quantity),
		       SUM(f.quantity * f.price) / SUM(f.quantity),
		       COUNT(f.fill_id),
		       MIN(f.ts), MAX(f.ts)
		FROM orders o
		JOIN fills f ON f.order_id = o.order_id ` + where + `
		GROUP BY o.order_id
		ORDER BY MIN(f.ts) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var ex domain.Execution
		var side, first, last string
		if err := rows.Scan(&ex.OrderID, &ex.AccountID, &ex.Symbol, &side,
			&ex.FilledQuantity, &ex.AvgPrice, &ex.FillCount, &first, &last); err != nil {
			return nil, err
		}
		ex.Side = domain.OrderSide(side)
		if ex.FirstFillAt, err = time.Parse(timeLayout, first); err != nil {
			return nil, err
		}
		if ex.LastFillAt, err = time.Parse(timeLayout, last); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// SaveSignal records a risk signal.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig domain.RiskSignal) error {
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_signals (account_id, rule, severity, symbol, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.AccountID, sig.Rule, string(sig.Severity), sig.Symbol, sig.Reason,
		createdAt.UTC().Format(timeLayout),
	)
	return err
}

// ListSignals returns the most recent signals for an account, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, accountID string, limit int) ([]domain.RiskSignal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, rule, severity, symbol, reason, created_at
		FROM risk_signals WHERE account_id = ?
		ORDER BY id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RiskSignal
	for rows.Next() {
		var sig domain.RiskSignal
		var severity, createdAt string
		if err := rows.Scan(&sig.AccountID, &sig.Rule, &severity, &sig.Symbol, &sig.Reason, &createdAt); err != nil {
			return nil, err
		}
		sig.Severity = domain.Severity(severity)
		if sig.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// load fetches orders matching the where clause, then hydrates status
// history, fills, notes, and tags per order.
func (s *SQLiteStore) load(ctx context.Context, where string, args []any, limit int) ([]domain.LedgerEntry, error) {
	query := `
		SELECT o.order_id, o.account_id, o.venue, o.symbol, o.side, o.order_type,
		       o.quantity, o.price, o.status, o.strategy_id, o.created_at
		FROM orders o ` + where + ` ORDER BY o.created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var side, orderType, createdAt string
		if err := rows.Scan(&e.OrderID, &e.AccountID, &e.Venue, &e.Symbol, &side,
			&orderType, &e.Quantity, &e.Price, &e.Status, &e.StrategyID, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Side = domain.OrderSide(side)
		e.OrderType = domain.OrderType(orderType)
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		if err := s.hydrate(ctx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *SQLiteStore) hydrate(ctx context.Context, e *domain.LedgerEntry) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, reason, at FROM order_status_history WHERE order_id = ? ORDER BY id`, e.OrderID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var sc domain.StatusChange
		var at string
		if err := rows.Scan(&sc.Status, &sc.Reason, &at); err != nil {
			rows.Close()
			return err
		}
		if sc.At, err = time.Parse(timeLayout, at); err != nil {
			rows.Close()
			return err
		}
		e.StatusHistory = append(e.StatusHistory, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT fill_id, quantity, price, ts FROM fills WHERE order_id = ? ORDER BY ts, fill_id`, e.OrderID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var f domain.Fill
		var ts string
		if err := rows.Scan(&f.ID, &f.Quantity, &f.Price, &ts); err != nil {
			rows.Close()
			return err
		}
		if f.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			rows.Close()
			return err
		}
		e.Fills = append(e.Fills, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT note, at FROM order_notes WHERE order_id = ? ORDER BY id`, e.OrderID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var n domain.Note
		var at string
		if err := rows.Scan(&n.Text, &at); err != nil {
			rows.Close()
			return err
		}
		if n.At, err = time.Parse(timeLayout, at); err != nil {
			rows.Close()
			return err
		}
		e.Notes = append(e.Notes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT tag FROM order_tags WHERE order_id = ? ORDER BY tag`, e.OrderID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			rows.Close()
			return err
		}
		e.Tags = append(e.Tags, tag)
	}
	rows.Close()
	return rows.Err()
}

// currentStatus reads the order's current status inside a transaction.
func currentStatus(ctx context.Context, tx *sql.Tx, orderID string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE order_id = ?`, orderID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return status, err
}

// terminalStatus covers both caller-visible and pipeline terminal states.
func terminalStatus(status string) bool {
	switch status {
	case string(domain.OrderStatusFilled),
		string(domain.OrderStatusRejected),
		string(domain.OrderStatusCancelled),
		domain.LedgerStatusLockedRejected,
		domain.LedgerStatusAdapterFailed:
		return true
	}
	return false
}

// buildFilter translates a Filter into a WHERE clause and args.
func buildFilter(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.AccountID != "" {
		conds = append(conds, "o.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Symbol != "" {
		conds = append(conds, "o.symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.StrategyID != "" {
		conds = append(conds, "o.strategy_id = ?")
		args = append(args, f.StrategyID)
	}
	if f.Tag != "" {
		conds = append(conds, "o.order_id IN (SELECT order_id FROM order_tags WHERE tag = ?)")
		args = append(args, f.Tag)
	}
	if !f.From.IsZero() {
		conds = append(conds, "o.created_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "o.created_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
