package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

// CartAggregator reserves multi-line carts atomically from the caller's
// point of view: either every line gets a hold or none do.
type CartAggregator interface {
	ReserveCart(ctx context.Context, tenantID, ownerRef string, lines []domain.CartLine, ttl time.Duration) ([]domain.Reservation, error)
}

type cartAggregator struct {
	engine StockEngine
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCartAggregator(engine StockEngine, log *zap.Logger) CartAggregator {
	return &cartAggregator{
		engine: engine,
		logger: log,
		tracer: otel.Tracer("service/cart_aggregator"),
	}
}

// ReserveCart walks the cart line by line. Every line is attempted even
// after a failure so the caller learns about all shortfalls at once; when
// any line fails, the holds already acquired are released before returning.
func (c *cartAggregator) ReserveCart(ctx context.Context, tenantID, ownerRef string, lines []domain.CartLine, ttl time.Duration) ([]domain.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "CartAggregator.ReserveCart")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("owner.ref", ownerRef),
		attribute.Int("lines", len(lines)),
	)

	if len(lines) == 0 {
		return nil, &domain.InvalidTransactionError{Detail: "empty cart"}
	}

	acquired := make([]domain.Reservation, 0, len(lines))
	var failures []domain.LineFailure

	for _, line := range lines {
		res, err := c.engine.Reserve(ctx, &domain.ReserveInput{
			TenantID:  tenantID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			OwnerRef:  ownerRef,
			TTL:       ttl,
		})
		if err == nil {
			acquired = append(acquired, *res)
			continue
		}

		var insufficient *domain.InsufficientAvailabilityError
		switch {
		case errors.As(err, &insufficient):
			failures = append(failures, domain.LineFailure{
				ProductID: insufficient.ProductID,
				Requested: insufficient.Requested,
				Available: insufficient.Available,
			})
		case errors.Is(err, repository.ErrRecordNotFound):
			// Never stocked means nothing is available.
			failures = append(failures, domain.LineFailure{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: decimal.Zero,
			})
		default:
			c.rollback(ctx, acquired)
			span.RecordError(err)
			return nil, err
		}
	}

	if len(failures) > 0 {
		c.rollback(ctx, acquired)
		return nil, &domain.CartReservationError{OwnerRef: ownerRef, Failures: failures}
	}

	return acquired, nil
}

// rollback releases holds taken earlier in a failed cart attempt. Release is
// idempotent, so a crash between acquire and rollback still converges once
// the TTL sweeper visits the leftovers.
func (c *cartAggregator) rollback(ctx context.Context, acquired []domain.Reservation) {
	for i := range acquired {
		res := &acquired[i]
		if err := c.engine.ReleaseReservation(ctx, res.TenantID, res.ID); err != nil {
			logger.Error(ctx, c.logger, "Failed to roll back cart reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.Error(err),
			)
		}
	}
}
