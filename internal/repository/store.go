package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
)

// EventEnvelope is a domain event queued for publication in the same
// transaction as the mutation it describes.
type EventEnvelope struct {
	EventType   string
	AggregateID string
	Payload     any
}

// StockMutation is one atomic read-modify-write against a single inventory
// record: the new projection state under its version token, the ledger entry
// recording the change, an optional reservation insert or transition, and
// the events to queue. Either everything commits or nothing does.
type StockMutation struct {
	Record  *domain.InventoryRecord
	Version int64
	Entry   *domain.StockTransaction

	// Reservation, when set, is inserted if ReservationFromState is empty,
	// otherwise transitioned with a state guard.
	Reservation          *domain.Reservation
	ReservationFromState domain.ReservationState

	Events []EventEnvelope
}

// Store is the durable-store contract the engine runs against. The pgx
// implementation lives in this package; an in-memory implementation used by
// unit tests lives in repository/memory.
type Store interface {
	GetRecord(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, error)
	// GetRecordForUpdate returns the record together with its version token.
	GetRecordForUpdate(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, int64, error)
	// CreateRecord inserts a zeroed record for a product receiving stock for
	// the first time. Racing creators are tolerated: the loser re-reads.
	CreateRecord(ctx context.Context, rec *domain.InventoryRecord) error
	// Apply commits a StockMutation atomically. Returns ErrVersionConflict
	// on a stale version token and ErrReservationStateChanged when the
	// reservation guard fails.
	Apply(ctx context.Context, mut *StockMutation) error

	GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Reservation, error)
	FindActiveByOwner(ctx context.Context, tenantID, ownerRef string) ([]domain.Reservation, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	// UpdateOwnerRef rewrites the back-reference on active reservations,
	// never their state. Returns the number of rewritten reservations.
	UpdateOwnerRef(ctx context.Context, tenantID, fromOwner, toOwner string) (int64, error)

	FindLowStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error)
	FindOutOfStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error)

	ListTransactions(ctx context.Context, tenantID string, productID int64, limit, offset int64) ([]domain.StockTransaction, error)
	// Replay folds every ledger delta for the product in append order.
	Replay(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error)
	FlagReconciliation(ctx context.Context, tenantID string, productID int64, flagged bool) error

	// SaveEvent queues a standalone event outside any record mutation.
	SaveEvent(ctx context.Context, tenantID string, event EventEnvelope) error
}
