package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationState string

const (
	ReservationStateActive    ReservationState = "ACTIVE"
	ReservationStateCommitted ReservationState = "COMMITTED"
	ReservationStateReleased  ReservationState = "RELEASED"
	ReservationStateExpired   ReservationState = "EXPIRED"
)

// Terminal states are absorbing: once a reservation leaves ACTIVE it never
// transitions again.
func (s ReservationState) Terminal() bool {
	return s == ReservationStateCommitted ||
		s == ReservationStateReleased ||
		s == ReservationStateExpired
}

// Reservation is a time-bounded hold on available quantity. OwnerRef is a
// back-reference to the cart or order that requested the hold; the owner
// never holds a live pointer to the reservation.
type Reservation struct {
	ID        uuid.UUID        `db:"id"`
	TenantID  string           `db:"tenant_id"`
	ProductID int64            `db:"product_id"`
	Quantity  decimal.Decimal  `db:"quantity"`
	OwnerRef  string           `db:"owner_ref"`
	State     ReservationState `db:"state"`
	CreatedAt time.Time        `db:"created_at"`
	ExpiresAt time.Time        `db:"expires_at"`
}

func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
