package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

func (s *stockEngine) Reserve(ctx context.Context, in *domain.ReserveInput) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.Int64("product.id", in.ProductID),
		attribute.String("owner.ref", in.OwnerRef),
	)

	if in.Quantity.Sign() <= 0 {
		return nil, &domain.InvalidTransactionError{Detail: "reservation quantity must be positive"}
	}
	if in.OwnerRef == "" {
		return nil, &domain.InvalidTransactionError{Detail: "missing owner reference"}
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	var created *domain.Reservation
	err := s.withRetry(ctx, func(ctx context.Context) error {
		rec, version, err := s.store.GetRecordForUpdate(ctx, in.TenantID, in.ProductID)
		if err != nil {
			return err
		}

		available := rec.AvailableQuantity()
		if available.LessThan(in.Quantity) {
			s.metrics.ReservationsTotal.WithLabelValues("insufficient").Inc()
			return &domain.InsufficientAvailabilityError{
				TenantID:  in.TenantID,
				ProductID: in.ProductID,
				Requested: in.Quantity,
				Available: available,
			}
		}

		now := time.Now()
		res := &domain.Reservation{
			ID:        uuid.New(),
			TenantID:  in.TenantID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			OwnerRef:  in.OwnerRef,
			State:     domain.ReservationStateActive,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		updated := *rec
		updated.ReservedQuantity = rec.ReservedQuantity.Add(in.Quantity)

		events := []repository.EventEnvelope{{
			EventType:   domain.EventStockReserved,
			AggregateID: aggregateID(in.TenantID, in.ProductID),
			Payload: domain.StockReservedEvent{
				ReservationID: res.ID,
				TenantID:      in.TenantID,
				ProductID:     in.ProductID,
				Quantity:      in.Quantity,
				OwnerRef:      in.OwnerRef,
				ExpiresAt:     res.ExpiresAt,
			},
		}}
		if ev := lowStockCrossing(rec, &updated); ev != nil {
			events = append(events, *ev)
		}

		if err := s.store.Apply(ctx, &repository.StockMutation{
			Record:      &updated,
			Version:     version,
			Entry:       s.reservationEntry(res, domain.ReasonReservationHold, updated.Quantity, in.Actor),
			Reservation: res,
			Events:      events,
		}); err != nil {
			return err
		}

		created = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ReservationsTotal.WithLabelValues("granted").Inc()
	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.ReasonReservationHold)).Inc()

	return created, nil
}

func (s *stockEngine) GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.GetReservation")
	defer span.End()

	return s.store.GetReservation(ctx, tenantID, id)
}

// CommitReservation converts an active hold into a completed sale: quantity
// and reserved quantity both drop by the held amount, so availability for
// everyone else is unchanged. Committing an already committed reservation is
// a no-op; committing a lapsed one fails and the caller must re-reserve.
func (s *stockEngine) CommitReservation(ctx context.Context, tenantID string, id uuid.UUID, referenceID string) error {
	ctx, span := s.tracer.Start(ctx, "StockEngine.CommitReservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation.id", id.String()))

	err := s.withRetry(ctx, func(ctx context.Context) error {
		res, err := s.store.GetReservation(ctx, tenantID, id)
		if err != nil {
			return err
		}

		switch res.State {
		case domain.ReservationStateCommitted:
			return nil
		case domain.ReservationStateReleased, domain.ReservationStateExpired:
			return &domain.ReservationExpiredError{ReservationID: res.ID, ExpiresAt: res.ExpiresAt}
		}

		// Past the deadline the hold is gone even if the sweeper has not
		// visited the row yet.
		if res.ExpiredAt(time.Now()) {
			return &domain.ReservationExpiredError{ReservationID: res.ID, ExpiresAt: res.ExpiresAt}
		}

		rec, version, err := s.store.GetRecordForUpdate(ctx, res.TenantID, res.ProductID)
		if err != nil {
			return err
		}

		updated := *rec
		updated.Quantity = rec.Quantity.Sub(res.Quantity)
		updated.ReservedQuantity = rec.ReservedQuantity.Sub(res.Quantity)

		committed := *res
		committed.State = domain.ReservationStateCommitted

		entry := &domain.StockTransaction{
			ID:            uuid.New(),
			TenantID:      res.TenantID,
			ProductID:     res.ProductID,
			Delta:         res.Quantity.Neg(),
			Reason:        domain.ReasonSale,
			ReferenceType: "order",
			ReferenceID:   referenceID,
			BalanceAfter:  updated.Quantity,
		}

		err = s.store.Apply(ctx, &repository.StockMutation{
			Record:               &updated,
			Version:              version,
			Entry:                entry,
			Reservation:          &committed,
			ReservationFromState: domain.ReservationStateActive,
			Events: []repository.EventEnvelope{{
				EventType:   domain.EventReservationCommitted,
				AggregateID: aggregateID(res.TenantID, res.ProductID),
				Payload: domain.ReservationCommittedEvent{
					ReservationID: res.ID,
					TenantID:      res.TenantID,
					ProductID:     res.ProductID,
					Quantity:      res.Quantity,
					ReferenceID:   referenceID,
				},
			}},
		})
		if errors.Is(err, repository.ErrReservationStateChanged) {
			return s.settleCommitRace(ctx, tenantID, id)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.ReasonSale)).Inc()
	return nil
}

// settleCommitRace resolves a commit that lost the state-guard race to a
// concurrent transition. A concurrent commit means the work is already done;
// anything else means the hold is gone.
func (s *stockEngine) settleCommitRace(ctx context.Context, tenantID string, id uuid.UUID) error {
	latest, err := s.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if latest.State == domain.ReservationStateCommitted {
		return nil
	}
	return &domain.ReservationExpiredError{ReservationID: latest.ID, ExpiresAt: latest.ExpiresAt}
}

// ReleaseReservation returns a hold to the available pool. Releasing a
// reservation that is already terminal is a no-op: the quantity has been
// returned (or consumed) exactly once either way.
func (s *stockEngine) ReleaseReservation(ctx context.Context, tenantID string, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "StockEngine.ReleaseReservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation.id", id.String()))

	err := s.resolveReservation(ctx, tenantID, id, domain.ReservationStateReleased)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// resolveReservation moves an active reservation to RELEASED or EXPIRED and
// hands its quantity back. Both paths are idempotent under races: whoever
// wins the state guard performs the accounting exactly once.
func (s *stockEngine) resolveReservation(ctx context.Context, tenantID string, id uuid.UUID, target domain.ReservationState) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		res, err := s.store.GetReservation(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if res.State.Terminal() {
			return nil
		}

		rec, version, err := s.store.GetRecordForUpdate(ctx, res.TenantID, res.ProductID)
		if err != nil {
			return err
		}

		updated := *rec
		updated.ReservedQuantity = rec.ReservedQuantity.Sub(res.Quantity)

		resolved := *res
		resolved.State = target

		reason := domain.ReasonReservationRelease
		event := repository.EventEnvelope{
			EventType:   domain.EventReservationReleased,
			AggregateID: aggregateID(res.TenantID, res.ProductID),
			Payload: domain.ReservationReleasedEvent{
				ReservationID: res.ID,
				TenantID:      res.TenantID,
				ProductID:     res.ProductID,
				Quantity:      res.Quantity,
			},
		}
		if target == domain.ReservationStateExpired {
			reason = domain.ReasonReservationExpire
			event = repository.EventEnvelope{
				EventType:   domain.EventReservationExpired,
				AggregateID: aggregateID(res.TenantID, res.ProductID),
				Payload: domain.ReservationExpiredEvent{
					ReservationID: res.ID,
					TenantID:      res.TenantID,
					ProductID:     res.ProductID,
					Quantity:      res.Quantity,
					ExpiredAt:     res.ExpiresAt,
				},
			}
		}

		err = s.store.Apply(ctx, &repository.StockMutation{
			Record:               &updated,
			Version:              version,
			Entry:                s.reservationEntry(res, reason, updated.Quantity, ""),
			Reservation:          &resolved,
			ReservationFromState: domain.ReservationStateActive,
			Events:               []repository.EventEnvelope{event},
		})
		if errors.Is(err, repository.ErrReservationStateChanged) {
			// Someone else resolved it first; their mutation carried the
			// accounting.
			return nil
		}
		if err != nil {
			return err
		}

		s.metrics.LedgerEntriesTotal.WithLabelValues(string(reason)).Inc()
		return nil
	})
}

// SweepExpired finds lapsed active reservations and expires them one at a
// time, each in its own transaction. Failures on individual reservations are
// logged and skipped so one poisoned row cannot stall the sweep.
func (s *stockEngine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.SweepExpired")
	defer span.End()

	expired, err := s.store.FindExpired(ctx, now, s.sweepBatch)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	swept := 0
	for i := range expired {
		res := &expired[i]
		if err := ctx.Err(); err != nil {
			return swept, err
		}

		if err := s.resolveReservation(ctx, res.TenantID, res.ID, domain.ReservationStateExpired); err != nil {
			logger.Error(ctx, s.logger, "Failed to expire reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.Error(err),
			)
			continue
		}

		swept++
		s.metrics.ExpiredSweptTotal.Inc()
	}

	if swept > 0 {
		logger.Info(ctx, s.logger, "Expired reservations swept", zap.Int("count", swept))
	}
	return swept, nil
}

// CommitByOwner commits every active reservation held by the owner. Used
// when a payment succeeds for an order whose holds were taken at checkout.
func (s *stockEngine) CommitByOwner(ctx context.Context, tenantID, ownerRef, referenceID string) error {
	ctx, span := s.tracer.Start(ctx, "StockEngine.CommitByOwner")
	defer span.End()

	held, err := s.store.FindActiveByOwner(ctx, tenantID, ownerRef)
	if err != nil {
		return err
	}

	for i := range held {
		if err := s.CommitReservation(ctx, tenantID, held[i].ID, referenceID); err != nil {
			return err
		}
	}
	return nil
}

func (s *stockEngine) ReleaseByOwner(ctx context.Context, tenantID, ownerRef string) error {
	ctx, span := s.tracer.Start(ctx, "StockEngine.ReleaseByOwner")
	defer span.End()

	held, err := s.store.FindActiveByOwner(ctx, tenantID, ownerRef)
	if err != nil {
		return err
	}

	for i := range held {
		if err := s.ReleaseReservation(ctx, tenantID, held[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// MigrateOwner rewrites the owner back-reference on active reservations,
// e.g. when an anonymous cart is claimed by a logged-in user. States and
// quantities are untouched.
func (s *stockEngine) MigrateOwner(ctx context.Context, tenantID, fromOwner, toOwner string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "StockEngine.MigrateOwner")
	defer span.End()

	if fromOwner == "" || toOwner == "" {
		return 0, &domain.InvalidTransactionError{Detail: "missing owner reference"}
	}

	moved, err := s.store.UpdateOwnerRef(ctx, tenantID, fromOwner, toOwner)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if moved > 0 {
		logger.Info(ctx, s.logger, "Reservation owner migrated",
			zap.String("from", fromOwner),
			zap.String("to", toOwner),
			zap.Int64("count", moved),
		)
	}
	return moved, nil
}

// reservationEntry builds the zero-delta audit entry for a reservation
// lifecycle event. BalanceAfter repeats the on-hand quantity, which the
// event did not change.
func (s *stockEngine) reservationEntry(res *domain.Reservation, reason domain.TransactionReason, balance decimal.Decimal, actor string) *domain.StockTransaction {
	return &domain.StockTransaction{
		ID:            uuid.New(),
		TenantID:      res.TenantID,
		ProductID:     res.ProductID,
		Delta:         decimal.Zero,
		Reason:        reason,
		ReferenceType: "reservation",
		ReferenceID:   res.ID.String(),
		BalanceAfter:  balance,
		Actor:         actor,
	}
}
