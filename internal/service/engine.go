package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/clients"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/metrics"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

// ErrUnknownProduct means the catalog does not know the product, so no
// inventory record may be created for it.
var ErrUnknownProduct = errors.New("product not found in catalog")

// StockEngine is the single write path for inventory state. Every mutation
// goes through the ledger; reads return the live projection.
type StockEngine interface {
	AdjustStock(ctx context.Context, in *domain.AdjustStockInput) (*domain.InventoryRecord, error)
	GetStockLevel(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, error)
	ListLowStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error)
	ListOutOfStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error)
	ListLedger(ctx context.Context, tenantID string, productID int64, limit, offset int64) ([]domain.StockTransaction, error)
	Reconcile(ctx context.Context, tenantID string, productID int64) (*domain.ReconciliationReport, error)

	Reserve(ctx context.Context, in *domain.ReserveInput) (*domain.Reservation, error)
	GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Reservation, error)
	CommitReservation(ctx context.Context, tenantID string, id uuid.UUID, referenceID string) error
	ReleaseReservation(ctx context.Context, tenantID string, id uuid.UUID) error
	CommitByOwner(ctx context.Context, tenantID, ownerRef, referenceID string) error
	ReleaseByOwner(ctx context.Context, tenantID, ownerRef string) error
	MigrateOwner(ctx context.Context, tenantID, fromOwner, toOwner string) (int64, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type stockEngine struct {
	store   repository.Store
	catalog clients.CatalogClient
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	retryAttempts int
	retryBackoff  time.Duration
	defaultTTL    time.Duration
	sweepBatch    int
}

// Tunables carries the non-dependency knobs so the constructor signature
// stays readable.
type Tunables struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	DefaultTTL    time.Duration
	SweepBatch    int
}

func NewStockEngine(
	store repository.Store,
	catalog clients.CatalogClient,
	log *zap.Logger,
	m *metrics.Metrics,
	tun Tunables,
) StockEngine {
	if tun.RetryAttempts <= 0 {
		tun.RetryAttempts = 5
	}
	if tun.RetryBackoff <= 0 {
		tun.RetryBackoff = 20 * time.Millisecond
	}
	if tun.DefaultTTL <= 0 {
		tun.DefaultTTL = 15 * time.Minute
	}
	if tun.SweepBatch <= 0 {
		tun.SweepBatch = 100
	}

	return &stockEngine{
		store:         store,
		catalog:       catalog,
		logger:        log,
		metrics:       m,
		tracer:        otel.Tracer("service/stock_engine"),
		retryAttempts: tun.RetryAttempts,
		retryBackoff:  tun.RetryBackoff,
		defaultTTL:    tun.DefaultTTL,
		sweepBatch:    tun.SweepBatch,
	}
}

func (s *stockEngine) AdjustStock(ctx context.Context, in *domain.AdjustStockInput) (*domain.InventoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.AdjustStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.Int64("product.id", in.ProductID),
		attribute.String("reason", string(in.Reason)),
	)

	if err := validateAdjustment(in); err != nil {
		return nil, err
	}

	var result *domain.InventoryRecord
	err := s.withRetry(ctx, func(ctx context.Context) error {
		rec, version, err := s.store.GetRecordForUpdate(ctx, in.TenantID, in.ProductID)
		if errors.Is(err, repository.ErrRecordNotFound) {
			rec, version, err = s.initRecord(ctx, in.TenantID, in.ProductID)
		}
		if err != nil {
			return err
		}

		newQuantity := rec.Quantity.Add(in.Delta)
		floor := rec.ReservedQuantity
		clamped := false

		if newQuantity.LessThan(floor) {
			if in.Reason != domain.ReasonAdjustment || !in.Override {
				return &domain.InsufficientStockError{
					ProductID: in.ProductID,
					Delta:     in.Delta,
					Quantity:  rec.Quantity,
					Floor:     floor,
				}
			}
			newQuantity = floor
			clamped = true
		}

		// A clamp can reduce the applied delta to zero; there is nothing
		// to record in that case.
		applied := newQuantity.Sub(rec.Quantity)
		if applied.IsZero() {
			logger.Warn(ctx, s.logger, "Adjustment fully absorbed by reserved floor",
				zap.String("tenant_id", in.TenantID),
				zap.Int64("product_id", in.ProductID),
				zap.String("requested_delta", in.Delta.String()),
			)
			result = rec
			return nil
		}

		updated := *rec
		updated.Quantity = newQuantity

		entry := &domain.StockTransaction{
			ID:            uuid.New(),
			TenantID:      in.TenantID,
			ProductID:     in.ProductID,
			Delta:         applied,
			Reason:        in.Reason,
			ReferenceType: in.ReferenceType,
			ReferenceID:   in.ReferenceID,
			BalanceAfter:  newQuantity,
			Actor:         in.Actor,
		}

		events := []repository.EventEnvelope{{
			EventType:   domain.EventStockAdjusted,
			AggregateID: aggregateID(in.TenantID, in.ProductID),
			Payload: domain.StockAdjustedEvent{
				TenantID:    in.TenantID,
				ProductID:   in.ProductID,
				Delta:       applied,
				NewQuantity: newQuantity,
				Reason:      string(in.Reason),
				Actor:       in.Actor,
			},
		}}
		if ev := lowStockCrossing(rec, &updated); ev != nil {
			events = append(events, *ev)
		}

		if err := s.store.Apply(ctx, &repository.StockMutation{
			Record:  &updated,
			Version: version,
			Entry:   entry,
			Events:  events,
		}); err != nil {
			return err
		}

		if clamped {
			logger.Warn(ctx, s.logger, "Adjustment clamped at reserved floor",
				zap.String("tenant_id", in.TenantID),
				zap.Int64("product_id", in.ProductID),
				zap.String("requested_delta", in.Delta.String()),
				zap.String("applied_delta", applied.String()),
			)
		}

		s.metrics.LedgerEntriesTotal.WithLabelValues(string(in.Reason)).Inc()
		result = &updated
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return result, nil
}

// initRecord creates a zeroed inventory record for a product that has never
// been stocked, after confirming the catalog knows it. A racing creator is
// tolerated: the loser simply re-reads.
func (s *stockEngine) initRecord(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, int64, error) {
	exists, err := s.catalog.ProductExists(ctx, tenantID, productID)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog lookup for product %d: %w", productID, err)
	}
	if !exists {
		return nil, 0, fmt.Errorf("%w: product %d", ErrUnknownProduct, productID)
	}

	minLevel, err := s.catalog.GetMinimumStockLevel(ctx, tenantID, productID)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog threshold for product %d: %w", productID, err)
	}

	rec := &domain.InventoryRecord{
		TenantID:          tenantID,
		ProductID:         productID,
		Quantity:          decimal.Zero,
		ReservedQuantity:  decimal.Zero,
		MinimumStockLevel: minLevel,
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, 0, err
	}

	logger.Info(ctx, s.logger, "Inventory record created",
		zap.String("tenant_id", tenantID),
		zap.Int64("product_id", productID),
	)

	return s.store.GetRecordForUpdate(ctx, tenantID, productID)
}

func (s *stockEngine) GetStockLevel(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.GetStockLevel")
	defer span.End()

	return s.store.GetRecord(ctx, tenantID, productID)
}

func (s *stockEngine) ListLowStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.ListLowStock")
	defer span.End()

	return s.store.FindLowStock(ctx, tenantID, limit, offset)
}

func (s *stockEngine) ListOutOfStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.ListOutOfStock")
	defer span.End()

	return s.store.FindOutOfStock(ctx, tenantID, limit, offset)
}

func (s *stockEngine) ListLedger(ctx context.Context, tenantID string, productID int64, limit, offset int64) ([]domain.StockTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.ListLedger")
	defer span.End()

	return s.store.ListTransactions(ctx, tenantID, productID, limit, offset)
}

// Reconcile replays the full ledger for one product and compares the folded
// quantity with the live projection. A mismatch is flagged and reported,
// never corrected automatically.
func (s *stockEngine) Reconcile(ctx context.Context, tenantID string, productID int64) (*domain.ReconciliationReport, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.Reconcile")
	defer span.End()

	rec, err := s.store.GetRecord(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}

	ledgerQty, err := s.store.Replay(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}

	report := &domain.ReconciliationReport{
		TenantID:       tenantID,
		ProductID:      productID,
		LedgerQuantity: ledgerQty,
		RecordQuantity: rec.Quantity,
		Consistent:     ledgerQty.Equal(rec.Quantity),
		CheckedAt:      time.Now(),
	}

	if !report.Consistent {
		logger.Error(ctx, s.logger, "Ledger replay does not match projection",
			zap.String("tenant_id", tenantID),
			zap.Int64("product_id", productID),
			zap.String("ledger_quantity", ledgerQty.String()),
			zap.String("record_quantity", rec.Quantity.String()),
		)
		s.metrics.ReconciliationDrift.Inc()

		if err := s.store.FlagReconciliation(ctx, tenantID, productID, true); err != nil {
			return nil, err
		}
		if err := s.store.SaveEvent(ctx, tenantID, repository.EventEnvelope{
			EventType:   domain.EventReconciliationMismatch,
			AggregateID: aggregateID(tenantID, productID),
			Payload: domain.ReconciliationMismatchEvent{
				TenantID:       tenantID,
				ProductID:      productID,
				LedgerQuantity: ledgerQty,
				RecordQuantity: rec.Quantity,
			},
		}); err != nil {
			return nil, err
		}
	} else if rec.NeedsReconciliation {
		if err := s.store.FlagReconciliation(ctx, tenantID, productID, false); err != nil {
			return nil, err
		}
	}

	return report, nil
}

func validateAdjustment(in *domain.AdjustStockInput) error {
	if in.TenantID == "" {
		return &domain.InvalidTransactionError{Detail: "missing tenant"}
	}
	if in.Delta.IsZero() {
		return &domain.InvalidTransactionError{Detail: "zero delta"}
	}
	switch in.Reason {
	case domain.ReasonRestock, domain.ReasonSale, domain.ReasonSaleCancelled,
		domain.ReasonReturn, domain.ReasonAdjustment:
	default:
		return &domain.InvalidTransactionError{Detail: fmt.Sprintf("reason %q not allowed for direct adjustment", in.Reason)}
	}
	return nil
}

// lowStockCrossing returns a LowStockAlert event when the mutation moved
// available quantity from at-or-above the threshold to below it. Only the
// downward crossing alerts; sitting below the threshold stays quiet.
func lowStockCrossing(before, after *domain.InventoryRecord) *repository.EventEnvelope {
	threshold := after.MinimumStockLevel
	wasBelow := before.AvailableQuantity().LessThan(threshold)
	isBelow := after.AvailableQuantity().LessThan(threshold)

	if wasBelow || !isBelow {
		return nil
	}

	return &repository.EventEnvelope{
		EventType:   domain.EventLowStockAlert,
		AggregateID: aggregateID(after.TenantID, after.ProductID),
		Payload: domain.LowStockAlertEvent{
			TenantID:  after.TenantID,
			ProductID: after.ProductID,
			Available: after.AvailableQuantity(),
			Threshold: threshold,
		},
	}
}

func aggregateID(tenantID string, productID int64) string {
	return fmt.Sprintf("%s:%d", tenantID, productID)
}
