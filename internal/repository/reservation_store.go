package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

const reservationColumns = `id, tenant_id, product_id, quantity, owner_ref, state, created_at, expires_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(
		&res.ID,
		&res.TenantID,
		&res.ProductID,
		&res.Quantity,
		&res.OwnerRef,
		&res.State,
		&res.CreatedAt,
		&res.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *pgxStore) GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.GetReservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id.String()))

	query := fmt.Sprintf(`
		SELECT %s
		FROM reservations
		WHERE id = $1 AND tenant_id = $2;
	`, reservationColumns)

	res, err := scanReservation(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}

		span.RecordError(err)
		logger.Error(
			ctx,
			s.logger,
			"Failed to query reservation",
			zap.String("reservation_id", id.String()),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting reservation: %w", err)
	}

	return res, nil
}

func (s *pgxStore) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting reservations: %w", err)
	}
	defer rows.Close()

	var result []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reservation: %w", err)
		}
		result = append(result, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

func (s *pgxStore) FindActiveByOwner(ctx context.Context, tenantID, ownerRef string) ([]domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.FindActiveByOwner")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("owner_ref", ownerRef),
	)

	query := fmt.Sprintf(`
		SELECT %s
		FROM reservations
		WHERE tenant_id = $1 AND owner_ref = $2 AND state = $3
		ORDER BY created_at;
	`, reservationColumns)

	result, err := s.queryReservations(ctx, query, tenantID, ownerRef, domain.ReservationStateActive)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, s.logger, "Failed to query reservations by owner", zap.Error(err))
		return nil, err
	}

	return result, nil
}

func (s *pgxStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.FindExpired")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := fmt.Sprintf(`
		SELECT %s
		FROM reservations
		WHERE state = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3;
	`, reservationColumns)

	result, err := s.queryReservations(ctx, query, domain.ReservationStateActive, now, limit)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, s.logger, "Failed to query expired reservations", zap.Error(err))
		return nil, err
	}

	return result, nil
}

func (s *pgxStore) UpdateOwnerRef(ctx context.Context, tenantID, fromOwner, toOwner string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.UpdateOwnerRef")
	defer span.End()

	span.SetAttributes(
		attribute.String("from_owner", fromOwner),
		attribute.String("to_owner", toOwner),
	)

	query := `
		UPDATE reservations
		SET owner_ref = $1
		WHERE tenant_id = $2 AND owner_ref = $3 AND state = $4;
	`

	commandTag, err := s.pool.Exec(ctx, query, toOwner, tenantID, fromOwner, domain.ReservationStateActive)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, s.logger, "Failed to rewrite owner ref", zap.Error(err))

		return 0, fmt.Errorf("error rewriting owner ref: %w", err)
	}

	return commandTag.RowsAffected(), nil
}
