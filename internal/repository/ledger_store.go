package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

func (s *pgxStore) appendEntry(ctx context.Context, tx pgx.Tx, entry *domain.StockTransaction) error {
	query := `
		INSERT INTO stock_transactions
			(id, tenant_id, product_id, delta, reason, reference_type, reference_id, balance_after, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`

	_, err := tx.Exec(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.ProductID,
		entry.Delta,
		entry.Reason,
		entry.ReferenceType,
		entry.ReferenceID,
		entry.BalanceAfter,
		entry.Actor,
	)
	if err != nil {
		logger.Error(
			ctx,
			s.logger,
			"Failed to append ledger entry",
			zap.Int64("product_id", entry.ProductID),
			zap.String("reason", string(entry.Reason)),
			zap.Error(err),
		)

		return fmt.Errorf("error appending ledger entry: %w", err)
	}

	return nil
}

func (s *pgxStore) ListTransactions(ctx context.Context, tenantID string, productID int64, limit, offset int64) ([]domain.StockTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.ListTransactions")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int64("product_id", productID),
	)

	query := `
		SELECT id, tenant_id, product_id, delta, reason, reference_type, reference_id,
			balance_after, actor, created_at
		FROM stock_transactions
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY seq
		LIMIT $3 OFFSET $4;
	`

	rows, err := s.pool.Query(ctx, query, tenantID, productID, limit, offset)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, s.logger, "Failed to query ledger entries", zap.Error(err))

		return nil, fmt.Errorf("error selecting ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.StockTransaction
	for rows.Next() {
		var entry domain.StockTransaction
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ProductID,
			&entry.Delta,
			&entry.Reason,
			&entry.ReferenceType,
			&entry.ReferenceID,
			&entry.BalanceAfter,
			&entry.Actor,
			&entry.CreatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

// Replay folds every delta for the product in append order. Entries for a
// single product are totally ordered by seq, so the straight sum matches a
// sequential fold.
func (s *pgxStore) Replay(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "StockStore.Replay")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int64("product_id", productID),
	)

	query := `
		SELECT COALESCE(SUM(delta), 0)
		FROM stock_transactions
		WHERE tenant_id = $1 AND product_id = $2;
	`

	var total decimal.Decimal
	if err := s.pool.QueryRow(ctx, query, tenantID, productID).Scan(&total); err != nil {
		span.RecordError(err)
		logger.Error(
			ctx,
			s.logger,
			"Failed to replay ledger",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)

		return decimal.Zero, fmt.Errorf("error replaying ledger: %w", err)
	}

	return total, nil
}
