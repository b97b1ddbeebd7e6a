package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

type pgxStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, log *zap.Logger) Store {
	return &pgxStore{
		pool:   pool,
		logger: log,
		tracer: otel.Tracer("contract/stock_store"),
	}
}

const recordColumns = `id, tenant_id, product_id, quantity, reserved_quantity,
	minimum_stock_level, version, needs_reconciliation, last_updated, created_at`

func scanRecord(row pgx.Row) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.ProductID,
		&rec.Quantity,
		&rec.ReservedQuantity,
		&rec.MinimumStockLevel,
		&rec.Version,
		&rec.NeedsReconciliation,
		&rec.LastUpdated,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *pgxStore) GetRecord(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.GetRecord")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int64("product_id", productID),
	)

	query := fmt.Sprintf(`
		SELECT %s
		FROM inventory_records
		WHERE tenant_id = $1 AND product_id = $2;
	`, recordColumns)

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, tenantID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}

		span.RecordError(err)
		logger.Error(
			ctx,
			s.logger,
			"Failed to query inventory record",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting inventory record: %w", err)
	}

	return rec, nil
}

func (s *pgxStore) GetRecordForUpdate(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, int64, error) {
	rec, err := s.GetRecord(ctx, tenantID, productID)
	if err != nil {
		return nil, 0, err
	}

	return rec, rec.Version, nil
}

func (s *pgxStore) CreateRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	ctx, span := s.tracer.Start(ctx, "StockStore.CreateRecord")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", rec.TenantID),
		attribute.Int64("product_id", rec.ProductID),
	)

	query := `
		INSERT INTO inventory_records
			(tenant_id, product_id, quantity, reserved_quantity, minimum_stock_level, version)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (tenant_id, product_id) DO NOTHING;
	`

	_, err := s.pool.Exec(ctx, query,
		rec.TenantID,
		rec.ProductID,
		rec.Quantity,
		rec.ReservedQuantity,
		rec.MinimumStockLevel,
	)
	if err != nil {
		span.RecordError(err)
		logger.Error(
			ctx,
			s.logger,
			"Failed to create inventory record",
			zap.Int64("product_id", rec.ProductID),
			zap.Error(err),
		)

		return fmt.Errorf("error creating inventory record: %w", err)
	}

	return nil
}

// Apply commits the whole mutation in one transaction: the version-guarded
// projection update, the ledger append, the optional reservation write, and
// the outbox rows. The projection update runs first so a stale writer fails
// before it touches anything else.
func (s *pgxStore) Apply(ctx context.Context, mut *StockMutation) error {
	ctx, span := s.tracer.Start(ctx, "StockStore.Apply")
	defer span.End()

	rec := mut.Record
	span.SetAttributes(
		attribute.String("tenant_id", rec.TenantID),
		attribute.Int64("product_id", rec.ProductID),
		attribute.Int64("version", mut.Version),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		logger.Error(ctx, s.logger, "Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Warn(cleanupCtx, s.logger, "Failed to rollback transaction", zap.Error(err))
		}
	}()

	updateQuery := `
		UPDATE inventory_records
		SET quantity = $1,
			reserved_quantity = $2,
			minimum_stock_level = $3,
			needs_reconciliation = $4,
			version = version + 1,
			last_updated = NOW()
		WHERE tenant_id = $5 AND product_id = $6 AND version = $7;
	`

	commandTag, err := tx.Exec(ctx, updateQuery,
		rec.Quantity,
		rec.ReservedQuantity,
		rec.MinimumStockLevel,
		rec.NeedsReconciliation,
		rec.TenantID,
		rec.ProductID,
		mut.Version,
	)
	if err != nil {
		span.RecordError(err)
		logger.Error(
			ctx,
			s.logger,
			"Failed to update inventory record",
			zap.Int64("product_id", rec.ProductID),
			zap.Error(err),
		)

		return fmt.Errorf("error updating inventory record: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if err := s.appendEntry(ctx, tx, mut.Entry); err != nil {
		return err
	}

	if mut.Reservation != nil {
		if err := s.writeReservation(ctx, tx, mut.Reservation, mut.ReservationFromState); err != nil {
			return err
		}
	}

	for _, event := range mut.Events {
		if err := s.saveEventTx(ctx, tx, rec.TenantID, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *pgxStore) writeReservation(ctx context.Context, tx pgx.Tx, res *domain.Reservation, fromState domain.ReservationState) error {
	if fromState == "" {
		query := `
			INSERT INTO reservations (id, tenant_id, product_id, quantity, owner_ref, state, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7);
		`

		_, err := tx.Exec(ctx, query,
			res.ID,
			res.TenantID,
			res.ProductID,
			res.Quantity,
			res.OwnerRef,
			res.State,
			res.ExpiresAt,
		)
		if err != nil {
			logger.Error(
				ctx,
				s.logger,
				"Failed to insert reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.Error(err),
			)

			return fmt.Errorf("error inserting reservation: %w", err)
		}

		return nil
	}

	query := `
		UPDATE reservations
		SET state = $1
		WHERE id = $2 AND tenant_id = $3 AND state = $4;
	`

	commandTag, err := tx.Exec(ctx, query, res.State, res.ID, res.TenantID, fromState)
	if err != nil {
		logger.Error(
			ctx,
			s.logger,
			"Failed to transition reservation",
			zap.String("reservation_id", res.ID.String()),
			zap.Error(err),
		)

		return fmt.Errorf("error transitioning reservation: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrReservationStateChanged
	}

	return nil
}

func (s *pgxStore) saveEventTx(ctx context.Context, tx pgx.Tx, tenantID string, event EventEnvelope) error {
	envelope := map[string]any{
		"event":   event.EventType,
		"payload": event.Payload,
	}

	payloadBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, topic)
		VALUES ($1, $2, $3, $4, $5);
	`

	_, err = tx.Exec(ctx, query, "Stock", event.AggregateID, event.EventType, payloadBytes, domain.TopicStockEvents)
	if err != nil {
		logger.Error(
			ctx,
			s.logger,
			"Failed to save outbox event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)

		return fmt.Errorf("error saving outbox event: %w", err)
	}

	return nil
}

func (s *pgxStore) SaveEvent(ctx context.Context, tenantID string, event EventEnvelope) error {
	ctx, span := s.tracer.Start(ctx, "StockStore.SaveEvent")
	defer span.End()

	span.SetAttributes(attribute.String("event_type", event.EventType))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Warn(cleanupCtx, s.logger, "Failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := s.saveEventTx(ctx, tx, tenantID, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *pgxStore) FlagReconciliation(ctx context.Context, tenantID string, productID int64, flagged bool) error {
	ctx, span := s.tracer.Start(ctx, "StockStore.FlagReconciliation")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Bool("flagged", flagged),
	)

	query := `
		UPDATE inventory_records
		SET needs_reconciliation = $1
		WHERE tenant_id = $2 AND product_id = $3;
	`

	commandTag, err := s.pool.Exec(ctx, query, flagged, tenantID, productID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("error flagging record for reconciliation: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}

	return nil
}

func (s *pgxStore) findByCondition(ctx context.Context, spanName, condition, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	baseQuery := fmt.Sprintf(`
		SELECT %s
		FROM inventory_records
		WHERE tenant_id = $1 AND %s
		ORDER BY product_id
		LIMIT $2 OFFSET $3;
	`, recordColumns, condition)

	rows, err := s.pool.Query(ctx, baseQuery, tenantID, limit, offset)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, s.logger, "Failed to query inventory records", zap.Error(err))

		return nil, 0, fmt.Errorf("error selecting inventory records: %w", err)
	}
	defer rows.Close()

	var records []domain.InventoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("error scanning inventory record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	countQuery := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM inventory_records
		WHERE tenant_id = $1 AND %s;
	`, condition)

	var totalCount int64
	if err := s.pool.QueryRow(ctx, countQuery, tenantID).Scan(&totalCount); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count inventory records: %w", err)
	}

	return records, totalCount, nil
}

func (s *pgxStore) FindLowStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	return s.findByCondition(ctx, "StockStore.FindLowStock",
		"quantity <= minimum_stock_level AND quantity - reserved_quantity > 0", tenantID, limit, offset)
}

func (s *pgxStore) FindOutOfStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	return s.findByCondition(ctx, "StockStore.FindOutOfStock",
		"quantity - reserved_quantity <= 0", tenantID, limit, offset)
}
