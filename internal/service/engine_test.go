package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/metrics"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository/memory"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
)

const testTenant = "acme"

type fakeCatalog struct {
	thresholds map[int64]decimal.Decimal
}

func (f *fakeCatalog) ProductExists(ctx context.Context, tenantID string, productID int64) (bool, error) {
	_, ok := f.thresholds[productID]
	return ok, nil
}

func (f *fakeCatalog) GetMinimumStockLevel(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error) {
	return f.thresholds[productID], nil
}

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	catalog *fakeCatalog
	engine  service.StockEngine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.catalog = &fakeCatalog{thresholds: map[int64]decimal.Decimal{
		1: decimal.RequireFromString("5"),
		2: decimal.Zero,
	}}
	s.engine = service.NewStockEngine(
		s.store,
		s.catalog,
		zap.NewNop(),
		metrics.New(prometheus.NewRegistry()),
		service.Tunables{
			RetryAttempts: 10,
			RetryBackoff:  time.Millisecond,
			DefaultTTL:    time.Minute,
			SweepBatch:    50,
		},
	)
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (s *EngineSuite) restock(productID int64, quantity string) *domain.InventoryRecord {
	rec, err := s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: productID,
		Delta:     dec(quantity),
		Reason:    domain.ReasonRestock,
		Actor:     "tester",
	})
	s.Require().NoError(err)
	return rec
}

func (s *EngineSuite) reserve(productID int64, quantity, owner string, ttl time.Duration) *domain.Reservation {
	res, err := s.engine.Reserve(s.ctx, &domain.ReserveInput{
		TenantID:  testTenant,
		ProductID: productID,
		Quantity:  dec(quantity),
		OwnerRef:  owner,
		TTL:       ttl,
	})
	s.Require().NoError(err)
	return res
}

func (s *EngineSuite) record(productID int64) *domain.InventoryRecord {
	rec, err := s.engine.GetStockLevel(s.ctx, testTenant, productID)
	s.Require().NoError(err)
	return rec
}

func (s *EngineSuite) eventsOfType(eventType string) []repository.EventEnvelope {
	var result []repository.EventEnvelope
	for _, ev := range s.store.Events() {
		if ev.EventType == eventType {
			result = append(result, ev)
		}
	}
	return result
}

// assertLedgerMatches replays the full ledger and compares against the live
// projection.
func (s *EngineSuite) assertLedgerMatches(productID int64) {
	replayed, err := s.store.Replay(s.ctx, testTenant, productID)
	s.Require().NoError(err)

	rec := s.record(productID)
	s.True(replayed.Equal(rec.Quantity),
		"ledger replays to %s but projection holds %s", replayed, rec.Quantity)
}

func (s *EngineSuite) TestRestockCreatesRecord() {
	rec := s.restock(1, "10")

	s.True(rec.Quantity.Equal(dec("10")))
	s.True(rec.ReservedQuantity.IsZero())
	s.True(rec.MinimumStockLevel.Equal(dec("5")))
	s.Equal(domain.StockStatusInStock, rec.Status())
	s.assertLedgerMatches(1)
}

func (s *EngineSuite) TestRestockUnknownProduct() {
	_, err := s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: 999,
		Delta:     dec("10"),
		Reason:    domain.ReasonRestock,
	})
	s.ErrorIs(err, service.ErrUnknownProduct)
}

func (s *EngineSuite) TestAdjustValidation() {
	_, err := s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: 1,
		Delta:     decimal.Zero,
		Reason:    domain.ReasonRestock,
	})

	var invalid *domain.InvalidTransactionError
	s.ErrorAs(err, &invalid)

	_, err = s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: 1,
		Delta:     dec("1"),
		Reason:    domain.ReasonReservationHold,
	})
	s.ErrorAs(err, &invalid)
}

func (s *EngineSuite) TestReserveCommitFlow() {
	s.restock(1, "10")

	first := s.reserve(1, "4", "cart:alice", 0)
	s.Equal(domain.ReservationStateActive, first.State)

	rec := s.record(1)
	s.True(rec.Quantity.Equal(dec("10")))
	s.True(rec.AvailableQuantity().Equal(dec("6")))

	second := s.reserve(1, "6", "cart:bob", 0)

	_, err := s.engine.Reserve(s.ctx, &domain.ReserveInput{
		TenantID:  testTenant,
		ProductID: 1,
		Quantity:  dec("1"),
		OwnerRef:  "cart:carol",
	})
	var insufficient *domain.InsufficientAvailabilityError
	s.ErrorAs(err, &insufficient)
	s.True(insufficient.Available.IsZero())

	s.Require().NoError(s.engine.CommitReservation(s.ctx, testTenant, first.ID, "order-1"))

	rec = s.record(1)
	s.True(rec.Quantity.Equal(dec("6")))
	s.True(rec.ReservedQuantity.Equal(dec("6")))
	s.True(rec.AvailableQuantity().IsZero())
	s.assertLedgerMatches(1)

	// The second hold is untouched by the first commit.
	stored, err := s.engine.GetReservation(s.ctx, testTenant, second.ID)
	s.Require().NoError(err)
	s.Equal(domain.ReservationStateActive, stored.State)

	s.Len(s.eventsOfType(domain.EventReservationCommitted), 1)
}

func (s *EngineSuite) TestCommitIdempotent() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", 0)

	s.Require().NoError(s.engine.CommitReservation(s.ctx, testTenant, res.ID, "order-1"))
	s.Require().NoError(s.engine.CommitReservation(s.ctx, testTenant, res.ID, "order-1"))

	rec := s.record(1)
	s.True(rec.Quantity.Equal(dec("6")))
	s.True(rec.ReservedQuantity.IsZero())
	s.Len(s.eventsOfType(domain.EventReservationCommitted), 1)
	s.assertLedgerMatches(1)
}

func (s *EngineSuite) TestCommitAfterRelease() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", 0)

	s.Require().NoError(s.engine.ReleaseReservation(s.ctx, testTenant, res.ID))

	err := s.engine.CommitReservation(s.ctx, testTenant, res.ID, "order-1")
	var expired *domain.ReservationExpiredError
	s.ErrorAs(err, &expired)

	rec := s.record(1)
	s.True(rec.Quantity.Equal(dec("10")))
	s.True(rec.ReservedQuantity.IsZero())
}

func (s *EngineSuite) TestCommitExpiredReservation() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", time.Nanosecond)

	time.Sleep(time.Millisecond)

	err := s.engine.CommitReservation(s.ctx, testTenant, res.ID, "order-1")
	var expired *domain.ReservationExpiredError
	s.ErrorAs(err, &expired)
	s.Equal(res.ID, expired.ReservationID)

	// The failed commit consumed nothing.
	rec := s.record(1)
	s.True(rec.Quantity.Equal(dec("10")))
}

func (s *EngineSuite) TestReleaseIdempotent() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", 0)

	s.Require().NoError(s.engine.ReleaseReservation(s.ctx, testTenant, res.ID))
	s.Require().NoError(s.engine.ReleaseReservation(s.ctx, testTenant, res.ID))

	rec := s.record(1)
	s.True(rec.ReservedQuantity.IsZero())
	s.True(rec.AvailableQuantity().Equal(dec("10")))
	s.Len(s.eventsOfType(domain.EventReservationReleased), 1)
	s.assertLedgerMatches(1)
}

func (s *EngineSuite) TestReleaseAfterCommitIsNoop() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", 0)

	s.Require().NoError(s.engine.CommitReservation(s.ctx, testTenant, res.ID, "order-1"))
	s.Require().NoError(s.engine.ReleaseReservation(s.ctx, testTenant, res.ID))

	rec := s.record(1)
	s.True(rec.Quantity.Equal(dec("6")))
	s.True(rec.ReservedQuantity.IsZero())
	s.Empty(s.eventsOfType(domain.EventReservationReleased))
}

func (s *EngineSuite) TestSweepExpired() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", time.Nanosecond)
	kept := s.reserve(1, "2", "cart:bob", time.Hour)

	time.Sleep(time.Millisecond)

	swept, err := s.engine.SweepExpired(s.ctx, time.Now())
	s.Require().NoError(err)
	s.Equal(1, swept)

	stored, err := s.engine.GetReservation(s.ctx, testTenant, res.ID)
	s.Require().NoError(err)
	s.Equal(domain.ReservationStateExpired, stored.State)

	rec := s.record(1)
	s.True(rec.ReservedQuantity.Equal(dec("2")))
	s.True(rec.AvailableQuantity().Equal(dec("8")))

	// A second sweep finds nothing: expiry happened exactly once.
	swept, err = s.engine.SweepExpired(s.ctx, time.Now())
	s.Require().NoError(err)
	s.Zero(swept)

	untouched, err := s.engine.GetReservation(s.ctx, testTenant, kept.ID)
	s.Require().NoError(err)
	s.Equal(domain.ReservationStateActive, untouched.State)

	s.Len(s.eventsOfType(domain.EventReservationExpired), 1)
	s.assertLedgerMatches(1)
}

func (s *EngineSuite) TestAdjustBelowReservedFloor() {
	s.restock(1, "10")
	s.reserve(1, "8", "cart:alice", 0)

	_, err := s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: 1,
		Delta:     dec("-5"),
		Reason:    domain.ReasonSale,
	})
	var stockErr *domain.InsufficientStockError
	s.ErrorAs(err, &stockErr)
	s.True(stockErr.Floor.Equal(dec("8")))

	// Administrative override clamps at the floor and records the applied
	// delta.
	rec, err := s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: 1,
		Delta:     dec("-5"),
		Reason:    domain.ReasonAdjustment,
		Override:  true,
	})
	s.Require().NoError(err)
	s.True(rec.Quantity.Equal(dec("8")))
	s.assertLedgerMatches(1)

	entries, err := s.engine.ListLedger(s.ctx, testTenant, 1, 50, 0)
	s.Require().NoError(err)
	last := entries[len(entries)-1]
	s.True(last.Delta.Equal(dec("-2")))
	s.Equal(domain.ReasonAdjustment, last.Reason)

	// Already at the floor: the override absorbs the whole delta and leaves
	// no ledger entry behind.
	rec, err = s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: 1,
		Delta:     dec("-5"),
		Reason:    domain.ReasonAdjustment,
		Override:  true,
	})
	s.Require().NoError(err)
	s.True(rec.Quantity.Equal(dec("8")))

	after, err := s.engine.ListLedger(s.ctx, testTenant, 1, 50, 0)
	s.Require().NoError(err)
	s.Len(after, len(entries))
}

func (s *EngineSuite) TestLowStockAlertOnCrossing() {
	s.restock(1, "10")

	s.reserve(1, "6", "cart:alice", 0)
	s.Len(s.eventsOfType(domain.EventLowStockAlert), 1, "crossing below threshold alerts once")

	s.reserve(1, "1", "cart:bob", 0)
	s.Len(s.eventsOfType(domain.EventLowStockAlert), 1, "staying below threshold stays quiet")
}

func (s *EngineSuite) TestConcurrentReservesNeverOversell() {
	s.restock(1, "10")

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.engine.Reserve(s.ctx, &domain.ReserveInput{
				TenantID:  testTenant,
				ProductID: 1,
				Quantity:  dec("1"),
				OwnerRef:  "cart:stress",
			})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	s.LessOrEqual(granted, 10)

	rec := s.record(1)
	s.True(rec.ReservedQuantity.Equal(decimal.NewFromInt(int64(granted))))
	s.True(rec.ReservedQuantity.LessThanOrEqual(rec.Quantity))
	s.assertLedgerMatches(1)
}

func (s *EngineSuite) TestReconcile() {
	s.restock(1, "10")
	s.restock(1, "5")

	report, err := s.engine.Reconcile(s.ctx, testTenant, 1)
	s.Require().NoError(err)
	s.True(report.Consistent)
	s.False(s.record(1).NeedsReconciliation)

	s.store.CorruptLedger(testTenant, 1, 1)

	report, err = s.engine.Reconcile(s.ctx, testTenant, 1)
	s.Require().NoError(err)
	s.False(report.Consistent)
	s.True(report.LedgerQuantity.Equal(dec("10")))
	s.True(report.RecordQuantity.Equal(dec("15")))

	rec := s.record(1)
	s.True(rec.NeedsReconciliation)
	// The projection is flagged, never silently corrected.
	s.True(rec.Quantity.Equal(dec("15")))

	s.Len(s.eventsOfType(domain.EventReconciliationMismatch), 1)
}

func (s *EngineSuite) TestReconcileClearsStaleFlag() {
	s.restock(1, "10")
	s.Require().NoError(s.store.FlagReconciliation(s.ctx, testTenant, 1, true))

	report, err := s.engine.Reconcile(s.ctx, testTenant, 1)
	s.Require().NoError(err)
	s.True(report.Consistent)
	s.False(s.record(1).NeedsReconciliation)
}

func (s *EngineSuite) TestLedgerOrderAndBalances() {
	s.restock(1, "10")
	res := s.reserve(1, "4", "cart:alice", 0)
	s.Require().NoError(s.engine.CommitReservation(s.ctx, testTenant, res.ID, "order-1"))
	s.restock(1, "3")

	entries, err := s.engine.ListLedger(s.ctx, testTenant, 1, 50, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 4)

	s.Equal(domain.ReasonRestock, entries[0].Reason)
	s.Equal(domain.ReasonReservationHold, entries[1].Reason)
	s.True(entries[1].Delta.IsZero())
	s.Equal(domain.ReasonSale, entries[2].Reason)
	s.Equal(domain.ReasonRestock, entries[3].Reason)

	s.True(entries[0].BalanceAfter.Equal(dec("10")))
	s.True(entries[1].BalanceAfter.Equal(dec("10")))
	s.True(entries[2].BalanceAfter.Equal(dec("6")))
	s.True(entries[3].BalanceAfter.Equal(dec("9")))
}

func (s *EngineSuite) TestOwnerOperations() {
	s.restock(1, "10")
	s.restock(2, "10")

	s.reserve(1, "2", "order:7", 0)
	s.reserve(2, "3", "order:7", 0)

	s.Require().NoError(s.engine.CommitByOwner(s.ctx, testTenant, "order:7", "7"))

	s.True(s.record(1).Quantity.Equal(dec("8")))
	s.True(s.record(2).Quantity.Equal(dec("7")))
	s.True(s.record(1).ReservedQuantity.IsZero())
	s.True(s.record(2).ReservedQuantity.IsZero())
}

func (s *EngineSuite) TestReleaseByOwner() {
	s.restock(1, "10")
	s.reserve(1, "2", "order:8", 0)
	s.reserve(1, "3", "order:8", 0)

	s.Require().NoError(s.engine.ReleaseByOwner(s.ctx, testTenant, "order:8"))

	rec := s.record(1)
	s.True(rec.ReservedQuantity.IsZero())
	s.True(rec.Quantity.Equal(dec("10")))
}

func (s *EngineSuite) TestMigrateOwner() {
	s.restock(1, "10")
	s.reserve(1, "2", "cart:anon-42", 0)
	s.reserve(1, "1", "cart:anon-42", 0)

	moved, err := s.engine.MigrateOwner(s.ctx, testTenant, "cart:anon-42", "user:99")
	s.Require().NoError(err)
	s.Equal(int64(2), moved)

	// The migrated holds answer to the new owner.
	s.Require().NoError(s.engine.ReleaseByOwner(s.ctx, testTenant, "user:99"))
	s.True(s.record(1).ReservedQuantity.IsZero())
}

func (s *EngineSuite) TestTenantIsolation() {
	s.restock(1, "10")

	_, err := s.engine.GetStockLevel(s.ctx, "other-tenant", 1)
	s.ErrorIs(err, repository.ErrRecordNotFound)

	_, err = s.engine.Reserve(s.ctx, &domain.ReserveInput{
		TenantID:  "other-tenant",
		ProductID: 1,
		Quantity:  dec("1"),
		OwnerRef:  "cart:x",
	})
	s.ErrorIs(err, repository.ErrRecordNotFound)
}

func (s *EngineSuite) TestListByStatus() {
	s.restock(1, "3")  // threshold 5: low
	s.restock(2, "10") // threshold 0: in stock
	s.reserve(2, "10", "cart:alice", 0)

	low, total, err := s.engine.ListLowStock(s.ctx, testTenant, 50, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(low, 1)
	s.Equal(int64(1), low[0].ProductID)

	out, total, err := s.engine.ListOutOfStock(s.ctx, testTenant, 50, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(out, 1)
	s.Equal(int64(2), out[0].ProductID)
}
