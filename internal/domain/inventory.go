package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StockStatusInStock    StockStatus = "IN_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// InventoryRecord is the current-state projection for one (tenant, product)
// pair. It is mutated only through ledger-mediated operations; the version
// field is the optimistic token checked on every write.
type InventoryRecord struct {
	ID                  int64           `db:"id"`
	TenantID            string          `db:"tenant_id"`
	ProductID           int64           `db:"product_id"`
	Quantity            decimal.Decimal `db:"quantity"`
	ReservedQuantity    decimal.Decimal `db:"reserved_quantity"`
	MinimumStockLevel   decimal.Decimal `db:"minimum_stock_level"`
	Version             int64           `db:"version"`
	NeedsReconciliation bool            `db:"needs_reconciliation"`
	LastUpdated         time.Time       `db:"last_updated"`
	CreatedAt           time.Time       `db:"created_at"`
}

// AvailableQuantity is always derived, never stored.
func (r *InventoryRecord) AvailableQuantity() decimal.Decimal {
	return r.Quantity.Sub(r.ReservedQuantity)
}

// Classify derives the stock status from the current projection. Pure, no
// I/O; recomputed on every read so a concurrent mutation can never leave a
// stale cached status behind.
func Classify(r *InventoryRecord) StockStatus {
	if r.AvailableQuantity().LessThanOrEqual(decimal.Zero) {
		return StockStatusOutOfStock
	}
	if r.Quantity.LessThanOrEqual(r.MinimumStockLevel) {
		return StockStatusLowStock
	}
	return StockStatusInStock
}

func (r *InventoryRecord) Status() StockStatus {
	return Classify(r)
}

// ReconciliationReport is the result of replaying the ledger against the
// live projection for one product.
type ReconciliationReport struct {
	TenantID       string          `json:"tenant_id"`
	ProductID      int64           `json:"product_id"`
	LedgerQuantity decimal.Decimal `json:"ledger_quantity"`
	RecordQuantity decimal.Decimal `json:"record_quantity"`
	Consistent     bool            `json:"consistent"`
	CheckedAt      time.Time       `json:"checked_at"`
}
