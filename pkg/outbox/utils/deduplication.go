package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

// ProcessWithDeduplication runs action at most once per eventID. The
// processed_events insert and the action's side effects share no
// transaction; the action itself must be idempotent at the engine level,
// this only short-circuits the common redelivery case.
func ProcessWithDeduplication(
	ctx context.Context,
	pool *pgxpool.Pool,
	log *zap.Logger,
	eventID int64,
	action func() error,
) error {
	span := trace.SpanFromContext(ctx)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err = tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Error(cleanupCtx, log, "Error rolling back transaction", zap.Error(err))
		}
	}()

	query := `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
	`

	_, err = tx.Exec(ctx, query, eventID)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == "23505" {
			logger.Info(
				ctx,
				log,
				"Event already processed, skipping",
				zap.Int64("event_id", eventID),
			)

			return nil
		}

		span.RecordError(err)
		return err
	}

	sent := false
	for i := 0; i < 3; i++ {
		err = action()
		if err == nil {
			sent = true
			break
		}

		if i < 2 {
			time.Sleep(500 * time.Millisecond)
		}
	}

	if !sent {
		logger.Error(ctx, log, "Failed to process after retries", zap.Error(err))
		return fmt.Errorf("failed to process: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		logger.Error(ctx, log, "Failed to commit transaction", zap.Error(err))

		return fmt.Errorf("failed to process: %w", err)
	}

	return nil
}
