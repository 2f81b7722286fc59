// Package archive exports ledger snapshots to Parquet files for offline
// analysis.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradegate/internal/domain"
	"tradegate/internal/ledger"
)

// Exporter writes ledger snapshots under a data directory.
type Exporter struct {
	DataDir string
}

// NewExporter creates an Exporter rooted at the given data directory.
func NewExporter(dataDir string) *Exporter {
	return &Exporter{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// OrderRecord is the Parquet schema for archived orders.
type OrderRecord struct {
	OrderID    string  `parquet:"order_id"`
	AccountID  string  `parquet:"account_id"`
	Venue      string  `parquet:"venue"`
	Symbol     string  `parquet:"symbol"`
	Side       string  `parquet:"side"`
	OrderType  string  `parquet:"order_type"`
	Quantity   float64 `parquet:"quantity"`
	Price      float64 `parquet:"price"`
	Status     string  `parquet:"status"`
	StrategyID string  `parquet:"strategy_id"`
	Tags       string  `parquet:"tags"` // comma-joined
	CreatedAt  int64   `parquet:"created_at,timestamp(millisecond)"`
}

// FillRecord is the Parquet schema for archived fills.
type FillRecord struct {
	FillID    string  `parquet:"fill_id"`
	OrderID   string  `parquet:"order_id"`
	Symbol    string  `parquet:"symbol"`
	Side      string  `parquet:"side"`
	Quantity  float64 `parquet:"quantity"`
	Price     float64 `parquet:"price"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
}

// ExecutionRecord is the Parquet schema for the aggregated executions view.
type ExecutionRecord struct {
	OrderID        string  `parquet:"order_id"`
	AccountID      string  `parquet:"account_id"`
	Symbol         string  `parquet:"symbol"`
	Side           string  `parquet:"side"`
	FilledQuantity float64 `parquet:"filled_quantity"`
	AvgPrice       float64 `parquet:"avg_price"`
	FillCount      int64   `parquet:"fill_count"`
	FirstFillAt    int64   `parquet:"first_fill_at,timestamp(millisecond)"`
	LastFillAt     int64   `parquet:"last_fill_at,timestamp(millisecond)"`
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// Export writes orders, fills, and executions matching the filter into one
// dated snapshot directory and returns its path.
//
// Layout: <DataDir>/archive/<YYYY-MM-DD>/{orders,fills,executions}.parquet
func (e *Exporter) Export(ctx context.Context, lg ledger.Ledger, f ledger.Filter, asOf time.Time) (string, error) {
	entries, err := lg.Query(ctx, f)
	if err != nil {
		return "", fmt.Errorf("querying orders: %w", err)
	}
	executions, err := lg.Executions(ctx, f)
	if err != nil {
		return "", fmt.Errorf("querying executions: %w", err)
	}

	dir := filepath.Join(e.DataDir, "archive", asOf.UTC().Format("2006-01-02"))

	var orders []OrderRecord
	var fills []FillRecord
	for i := range entries {
		orders = append(orders, orderRecord(&entries[i]))
		for _, fill := range entries[i].Fills {
			fills = append(fills, FillRecord{
				FillID:    fill.ID,
				OrderID:   entries[i].OrderID,
				Symbol:    entries[i].Symbol,
				Side:      string(entries[i].Side),
				Quantity:  fill.Quantity,
				Price:     fill.Price,
				Timestamp: fill.Timestamp.UnixMilli(),
			})
		}
	}

	execs := make([]ExecutionRecord, 0, len(executions))
	for _, x := range executions {
		execs = append(execs, ExecutionRecord{
			OrderID:        x.OrderID,
			AccountID:      x.AccountID,
			Symbol:         x.Symbol,
			Side:           string(x.Side),
			FilledQuantity: x.FilledQuantity,
			AvgPrice:       x.AvgPrice,
			FillCount:      int64(x.FillCount),
			FirstFillAt:    x.FirstFillAt.UnixMilli(),
			LastFillAt:     x.LastFillAt.UnixMilli(),
		})
	}

	if err := writeParquetFile(filepath.Join(dir, "orders.parquet"), orders); err != nil {
		return "", fmt.Errorf("writing orders: %w", err)
	}
	if err := writeParquetFile(filepath.Join(dir, "fills.parquet"), fills); err != nil {
		return "", fmt.Errorf("writing fills: %w", err)
	}
	if err := writeParquetFile(filepath.Join(dir, "executions.parquet"), execs); err != nil {
		return "", fmt.Errorf("writing executions: %w", err)
	}
	return dir, nil
}

// ReadOrders reads an archived orders file back; used by tooling and tests.
func ReadOrders(dir string) ([]OrderRecord, error) {
	return parquet.ReadFile[OrderRecord](filepath.Join(dir, "orders.parquet"))
}

// ReadExecutions reads an archived executions file back.
func ReadExecutions(dir string) ([]ExecutionRecord, error) {
	return parquet.ReadFile[ExecutionRecord](filepath.Join(dir, "executions.parquet"))
}

func orderRecord(e *domain.LedgerEntry) OrderRecord {
	return OrderRecord{
		OrderID:    e.OrderID,
		AccountID:  e.AccountID,
		Venue:      e.Venue,
		Symbol:     e.Symbol,
		Side:       string(e.Side),
		OrderType:  string(e.OrderType),
		Quantity:   e.Quantity,
		Price:      e.Price,
		Status:     e.Status,
		StrategyID: e.StrategyID,
		Tags:       strings.Join(e.Tags, ","),
		CreatedAt:  e.CreatedAt.UnixMilli(),
	}
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
