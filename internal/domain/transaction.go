package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionReason string

const (
	ReasonRestock            TransactionReason = "RESTOCK"
	ReasonSale               TransactionReason = "SALE"
	ReasonSaleCancelled      TransactionReason = "SALE_CANCELLED"
	ReasonReturn             TransactionReason = "RETURN"
	ReasonAdjustment         TransactionReason = "ADJUSTMENT"
	ReasonReservationHold    TransactionReason = "RESERVATION_HOLD"
	ReasonReservationRelease TransactionReason = "RESERVATION_RELEASE"
	ReasonReservationExpire  TransactionReason = "RESERVATION_EXPIRE"
)

func (r TransactionReason) Valid() bool {
	switch r {
	case ReasonRestock, ReasonSale, ReasonSaleCancelled, ReasonReturn,
		ReasonAdjustment, ReasonReservationHold, ReasonReservationRelease,
		ReasonReservationExpire:
		return true
	}
	return false
}

// ReservationEvent reports whether the reason records a reservation
// lifecycle event. Those entries carry a zero delta: the ledger keeps the
// audit trail while only the reserved counter moves.
func (r TransactionReason) ReservationEvent() bool {
	switch r {
	case ReasonReservationHold, ReasonReservationRelease, ReasonReservationExpire:
		return true
	}
	return false
}

// StockTransaction is one immutable ledger entry. The sum of all deltas for
// a product, in append order, always equals that product's current quantity.
type StockTransaction struct {
	ID            uuid.UUID         `db:"id"`
	TenantID      string            `db:"tenant_id"`
	ProductID     int64             `db:"product_id"`
	Delta         decimal.Decimal   `db:"delta"`
	Reason        TransactionReason `db:"reason"`
	ReferenceType string            `db:"reference_type"`
	ReferenceID   string            `db:"reference_id"`
	BalanceAfter  decimal.Decimal   `db:"balance_after"`
	Actor         string            `db:"actor"`
	CreatedAt     time.Time         `db:"created_at"`
}
