package repository_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/testsuite"
)

const testTenant = "acme"

type StoreSuite struct {
	testsuite.BaseSuite
	store repository.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.SetupPostgres("../../migrations")
	s.store = repository.NewStore(s.DbPool, zap.NewNop())
}

func (s *StoreSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *StoreSuite) SetupTest() {
	s.TruncateTable("inventory_records")
	s.TruncateTable("stock_transactions")
	s.TruncateTable("reservations")
	s.TruncateTable("outbox")
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (s *StoreSuite) createRecord(productID int64, quantity string) (*domain.InventoryRecord, int64) {
	err := s.store.CreateRecord(s.Ctx, &domain.InventoryRecord{
		TenantID:          testTenant,
		ProductID:         productID,
		Quantity:          decimal.Zero,
		ReservedQuantity:  decimal.Zero,
		MinimumStockLevel: dec("5"),
	})
	s.Require().NoError(err)

	rec, version, err := s.store.GetRecordForUpdate(s.Ctx, testTenant, productID)
	s.Require().NoError(err)

	if quantity != "0" {
		updated := *rec
		updated.Quantity = dec(quantity)
		s.Require().NoError(s.store.Apply(s.Ctx, &repository.StockMutation{
			Record:  &updated,
			Version: version,
			Entry: &domain.StockTransaction{
				ID:           uuid.New(),
				TenantID:     testTenant,
				ProductID:    productID,
				Delta:        dec(quantity),
				Reason:       domain.ReasonRestock,
				BalanceAfter: dec(quantity),
			},
		}))

		rec, version, err = s.store.GetRecordForUpdate(s.Ctx, testTenant, productID)
		s.Require().NoError(err)
	}

	return rec, version
}

func (s *StoreSuite) TestCreateAndGetRecord() {
	rec, version := s.createRecord(1, "10")

	s.True(rec.Quantity.Equal(dec("10")))
	s.Equal(int64(2), version)
	s.False(rec.NeedsReconciliation)

	// Creating again is a no-op, not an error.
	s.Require().NoError(s.store.CreateRecord(s.Ctx, &domain.InventoryRecord{
		TenantID:  testTenant,
		ProductID: 1,
		Quantity:  dec("999"),
	}))

	again, err := s.store.GetRecord(s.Ctx, testTenant, 1)
	s.Require().NoError(err)
	s.True(again.Quantity.Equal(dec("10")))
}

func (s *StoreSuite) TestGetRecordNotFound() {
	_, err := s.store.GetRecord(s.Ctx, testTenant, 404)
	s.ErrorIs(err, repository.ErrRecordNotFound)

	_, err = s.store.GetRecord(s.Ctx, "other-tenant", 1)
	s.ErrorIs(err, repository.ErrRecordNotFound)
}

func (s *StoreSuite) TestApplyStaleVersion() {
	rec, version := s.createRecord(1, "10")

	updated := *rec
	updated.Quantity = dec("12")
	mutation := func(v int64) *repository.StockMutation {
		return &repository.StockMutation{
			Record:  &updated,
			Version: v,
			Entry: &domain.StockTransaction{
				ID:           uuid.New(),
				TenantID:     testTenant,
				ProductID:    1,
				Delta:        dec("2"),
				Reason:       domain.ReasonRestock,
				BalanceAfter: dec("12"),
			},
		}
	}

	s.Require().NoError(s.store.Apply(s.Ctx, mutation(version)))

	// Same version again: someone else already advanced it.
	err := s.store.Apply(s.Ctx, mutation(version))
	s.ErrorIs(err, repository.ErrVersionConflict)

	// A conflicted mutation leaves no ledger entry behind.
	entries, err := s.store.ListTransactions(s.Ctx, testTenant, 1, 50, 0)
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *StoreSuite) TestApplyReservationLifecycle() {
	rec, version := s.createRecord(1, "10")

	res := &domain.Reservation{
		ID:        uuid.New(),
		TenantID:  testTenant,
		ProductID: 1,
		Quantity:  dec("4"),
		OwnerRef:  "cart:alice",
		State:     domain.ReservationStateActive,
		ExpiresAt: time.Now().Add(time.Minute),
	}

	held := *rec
	held.ReservedQuantity = dec("4")
	s.Require().NoError(s.store.Apply(s.Ctx, &repository.StockMutation{
		Record:  &held,
		Version: version,
		Entry: &domain.StockTransaction{
			ID:           uuid.New(),
			TenantID:     testTenant,
			ProductID:    1,
			Delta:        decimal.Zero,
			Reason:       domain.ReasonReservationHold,
			BalanceAfter: dec("10"),
		},
		Reservation: res,
		Events: []repository.EventEnvelope{{
			EventType:   domain.EventStockReserved,
			AggregateID: "acme:1",
			Payload:     domain.StockReservedEvent{ReservationID: res.ID},
		}},
	}))

	stored, err := s.store.GetReservation(s.Ctx, testTenant, res.ID)
	s.Require().NoError(err)
	s.Equal(domain.ReservationStateActive, stored.State)
	s.True(stored.Quantity.Equal(dec("4")))

	// The outbox row committed with the mutation.
	var outboxCount int
	err = s.DbPool.QueryRow(s.Ctx,
		"SELECT COUNT(*) FROM outbox WHERE event_type = $1", domain.EventStockReserved).
		Scan(&outboxCount)
	s.Require().NoError(err)
	s.Equal(1, outboxCount)

	// Guarded transition out of ACTIVE.
	rec2, version2, err := s.store.GetRecordForUpdate(s.Ctx, testTenant, 1)
	s.Require().NoError(err)

	released := *stored
	released.State = domain.ReservationStateReleased
	freed := *rec2
	freed.ReservedQuantity = decimal.Zero
	s.Require().NoError(s.store.Apply(s.Ctx, &repository.StockMutation{
		Record:  &freed,
		Version: version2,
		Entry: &domain.StockTransaction{
			ID:           uuid.New(),
			TenantID:     testTenant,
			ProductID:    1,
			Delta:        decimal.Zero,
			Reason:       domain.ReasonReservationRelease,
			BalanceAfter: dec("10"),
		},
		Reservation:          &released,
		ReservationFromState: domain.ReservationStateActive,
	}))

	// The guard rejects a second transition from ACTIVE.
	rec3, version3, err := s.store.GetRecordForUpdate(s.Ctx, testTenant, 1)
	s.Require().NoError(err)

	expired := *stored
	expired.State = domain.ReservationStateExpired
	again := *rec3
	err = s.store.Apply(s.Ctx, &repository.StockMutation{
		Record:  &again,
		Version: version3,
		Entry: &domain.StockTransaction{
			ID:           uuid.New(),
			TenantID:     testTenant,
			ProductID:    1,
			Delta:        decimal.Zero,
			Reason:       domain.ReasonReservationExpire,
			BalanceAfter: dec("10"),
		},
		Reservation:          &expired,
		ReservationFromState: domain.ReservationStateActive,
	})
	s.ErrorIs(err, repository.ErrReservationStateChanged)

	// The failed transition rolled back its ledger entry too.
	entries, err := s.store.ListTransactions(s.Ctx, testTenant, 1, 50, 0)
	s.Require().NoError(err)
	s.Len(entries, 3)
}

func (s *StoreSuite) TestReplay() {
	rec, version := s.createRecord(1, "10")

	updated := *rec
	updated.Quantity = dec("7")
	s.Require().NoError(s.store.Apply(s.Ctx, &repository.StockMutation{
		Record:  &updated,
		Version: version,
		Entry: &domain.StockTransaction{
			ID:           uuid.New(),
			TenantID:     testTenant,
			ProductID:    1,
			Delta:        dec("-3"),
			Reason:       domain.ReasonSale,
			BalanceAfter: dec("7"),
		},
	}))

	total, err := s.store.Replay(s.Ctx, testTenant, 1)
	s.Require().NoError(err)
	s.True(total.Equal(dec("7")))

	// Empty ledger folds to zero.
	total, err = s.store.Replay(s.Ctx, testTenant, 404)
	s.Require().NoError(err)
	s.True(total.IsZero())
}

func (s *StoreSuite) TestFindExpiredAndOwnerQueries() {
	rec, version := s.createRecord(1, "10")

	insert := func(owner string, expiresAt time.Time, version int64) *domain.Reservation {
		res := &domain.Reservation{
			ID:        uuid.New(),
			TenantID:  testTenant,
			ProductID: 1,
			Quantity:  dec("1"),
			OwnerRef:  owner,
			State:     domain.ReservationStateActive,
			ExpiresAt: expiresAt,
		}

		held := *rec
		held.ReservedQuantity = rec.ReservedQuantity.Add(dec("1"))
		s.Require().NoError(s.store.Apply(s.Ctx, &repository.StockMutation{
			Record:  &held,
			Version: version,
			Entry: &domain.StockTransaction{
				ID:           uuid.New(),
				TenantID:     testTenant,
				ProductID:    1,
				Delta:        decimal.Zero,
				Reason:       domain.ReasonReservationHold,
				BalanceAfter: dec("10"),
			},
			Reservation: res,
		}))
		*rec = held

		return res
	}

	lapsed := insert("cart:alice", time.Now().Add(-time.Minute), version)
	insert("cart:alice", time.Now().Add(time.Hour), version+1)

	expired, err := s.store.FindExpired(s.Ctx, time.Now(), 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(lapsed.ID, expired[0].ID)

	active, err := s.store.FindActiveByOwner(s.Ctx, testTenant, "cart:alice")
	s.Require().NoError(err)
	s.Len(active, 2)

	moved, err := s.store.UpdateOwnerRef(s.Ctx, testTenant, "cart:alice", "user:99")
	s.Require().NoError(err)
	s.Equal(int64(2), moved)

	active, err = s.store.FindActiveByOwner(s.Ctx, testTenant, "user:99")
	s.Require().NoError(err)
	s.Len(active, 2)
}

func (s *StoreSuite) TestFindByStatus() {
	s.createRecord(1, "3")  // below the threshold of 5
	s.createRecord(2, "10") // healthy

	low, total, err := s.store.FindLowStock(s.Ctx, testTenant, 50, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(low, 1)
	s.Equal(int64(1), low[0].ProductID)

	out, total, err := s.store.FindOutOfStock(s.Ctx, testTenant, 50, 0)
	s.Require().NoError(err)
	s.Equal(int64(0), total)
	s.Empty(out)
}

func (s *StoreSuite) TestFlagReconciliation() {
	s.createRecord(1, "10")

	s.Require().NoError(s.store.FlagReconciliation(s.Ctx, testTenant, 1, true))
	rec, err := s.store.GetRecord(s.Ctx, testTenant, 1)
	s.Require().NoError(err)
	s.True(rec.NeedsReconciliation)

	s.Require().NoError(s.store.FlagReconciliation(s.Ctx, testTenant, 1, false))
	rec, err = s.store.GetRecord(s.Ctx, testTenant, 1)
	s.Require().NoError(err)
	s.False(rec.NeedsReconciliation)

	s.ErrorIs(s.store.FlagReconciliation(s.Ctx, testTenant, 404, true), repository.ErrRecordNotFound)
}
