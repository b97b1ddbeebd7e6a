package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topic the engine publishes to through the transactional outbox.
const TopicStockEvents = "stock_events"

const (
	EventStockAdjusted          = "StockAdjusted"
	EventStockReserved          = "StockReserved"
	EventReservationCommitted   = "ReservationCommitted"
	EventReservationReleased    = "ReservationReleased"
	EventReservationExpired     = "ReservationExpired"
	EventLowStockAlert          = "LowStockAlert"
	EventReconciliationMismatch = "ReconciliationMismatch"
)

type StockAdjustedEvent struct {
	TenantID    string          `json:"tenant_id"`
	ProductID   int64           `json:"product_id"`
	Delta       decimal.Decimal `json:"delta"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      string          `json:"reason"`
	Actor       string          `json:"actor"`
}

type StockReservedEvent struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	TenantID      string          `json:"tenant_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	OwnerRef      string          `json:"owner_ref"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

type ReservationCommittedEvent struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	TenantID      string          `json:"tenant_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceID   string          `json:"reference_id"`
}

type ReservationReleasedEvent struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	TenantID      string          `json:"tenant_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
}

type ReservationExpiredEvent struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	TenantID      string          `json:"tenant_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExpiredAt     time.Time       `json:"expired_at"`
}

type LowStockAlertEvent struct {
	TenantID  string          `json:"tenant_id"`
	ProductID int64           `json:"product_id"`
	Available decimal.Decimal `json:"available"`
	Threshold decimal.Decimal `json:"threshold"`
}

type ReconciliationMismatchEvent struct {
	TenantID       string          `json:"tenant_id"`
	ProductID      int64           `json:"product_id"`
	LedgerQuantity decimal.Decimal `json:"ledger_quantity"`
	RecordQuantity decimal.Decimal `json:"record_quantity"`
}

// Inbound order events consumed from the order subsystem.

type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderID  int64       `json:"order_id"`
	TenantID string      `json:"tenant_id"`
	Items    []OrderItem `json:"items"`
}

type PaymentSucceededEvent struct {
	OrderID  int64  `json:"order_id"`
	TenantID string `json:"tenant_id"`
}

type PaymentFailedEvent struct {
	OrderID  int64  `json:"order_id"`
	TenantID string `json:"tenant_id"`
}

type OrderCancelledEvent struct {
	OrderID  int64  `json:"order_id"`
	TenantID string `json:"tenant_id"`
}
