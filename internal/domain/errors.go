package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InsufficientAvailabilityError is user-recoverable: the item is no longer
// available at the requested quantity. It carries enough detail for the
// caller to tell the user what is still available.
type InsufficientAvailabilityError struct {
	TenantID  string
	ProductID int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientAvailabilityError) Error() string {
	return fmt.Sprintf("insufficient availability for product %d: requested %s, available %s",
		e.ProductID, e.Requested, e.Available)
}

// InsufficientStockError means a ledger delta would drive quantity below the
// reserved floor.
type InsufficientStockError struct {
	ProductID int64
	Delta     decimal.Decimal
	Quantity  decimal.Decimal
	Floor     decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: delta %s on quantity %s would fall below floor %s",
		e.ProductID, e.Delta, e.Quantity, e.Floor)
}

// ReservationExpiredError is user-recoverable: the hold lapsed (or was
// otherwise resolved without a commit) before the order finalized. The
// correct caller action is to re-reserve.
type ReservationExpiredError struct {
	ReservationID uuid.UUID
	ExpiresAt     time.Time
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation %s expired at %s", e.ReservationID, e.ExpiresAt.Format(time.RFC3339))
}

// InvalidTransactionError is a contract error: malformed reason, reference
// or quantity. Fail fast, never retried.
type InvalidTransactionError struct {
	Detail string
}

func (e *InvalidTransactionError) Error() string {
	return "invalid stock transaction: " + e.Detail
}

// LineFailure describes one cart line that could not be reserved.
type LineFailure struct {
	ProductID int64           `json:"product_id"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

// CartReservationError is returned by the all-or-nothing checkout path. Any
// holds acquired earlier in the attempt have already been released.
type CartReservationError struct {
	OwnerRef string
	Failures []LineFailure
}

func (e *CartReservationError) Error() string {
	return fmt.Sprintf("cart %s: %d line(s) could not be reserved", e.OwnerRef, len(e.Failures))
}
