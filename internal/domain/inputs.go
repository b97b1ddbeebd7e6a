package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AdjustStockInput struct {
	TenantID      string
	ProductID     int64
	Delta         decimal.Decimal
	Reason        TransactionReason
	ReferenceType string
	ReferenceID   string
	Actor         string
	// Override lets an administrative ADJUSTMENT clamp at the reserved
	// floor instead of failing.
	Override bool
}

type ReserveInput struct {
	TenantID  string
	ProductID int64
	Quantity  decimal.Decimal
	OwnerRef  string
	Actor     string
	TTL       time.Duration
}

type CartLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}
