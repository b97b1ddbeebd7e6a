// Package memory provides an in-memory Store used by engine unit tests. It
// enforces the same version-token and reservation-state guards as the
// Postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
)

type Store struct {
	mu           sync.RWMutex
	records      map[string]*domain.InventoryRecord
	ledger       map[string][]domain.StockTransaction
	reservations map[uuid.UUID]*domain.Reservation
	events       []repository.EventEnvelope
}

func NewStore() *Store {
	return &Store{
		records:      make(map[string]*domain.InventoryRecord),
		ledger:       make(map[string][]domain.StockTransaction),
		reservations: make(map[uuid.UUID]*domain.Reservation),
	}
}

func key(tenantID string, productID int64) string {
	return fmt.Sprintf("%s|%d", tenantID, productID)
}

func copyRecord(rec *domain.InventoryRecord) *domain.InventoryRecord {
	c := *rec
	return &c
}

func copyReservation(res *domain.Reservation) *domain.Reservation {
	c := *res
	return &c
}

func (s *Store) GetRecord(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key(tenantID, productID)]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}

	return copyRecord(rec), nil
}

func (s *Store) GetRecordForUpdate(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, int64, error) {
	rec, err := s.GetRecord(ctx, tenantID, productID)
	if err != nil {
		return nil, 0, err
	}

	return rec, rec.Version, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rec.TenantID, rec.ProductID)
	if _, exists := s.records[k]; exists {
		return nil
	}

	stored := copyRecord(rec)
	stored.Version = 1
	stored.CreatedAt = time.Now()
	stored.LastUpdated = stored.CreatedAt
	s.records[k] = stored

	return nil
}

func (s *Store) Apply(ctx context.Context, mut *repository.StockMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(mut.Record.TenantID, mut.Record.ProductID)
	current, ok := s.records[k]
	if !ok {
		return repository.ErrRecordNotFound
	}

	if current.Version != mut.Version {
		return repository.ErrVersionConflict
	}

	// Guards checked before anything is written so a failure leaves no
	// partial state behind.
	if mut.Reservation != nil && mut.ReservationFromState != "" {
		existing, found := s.reservations[mut.Reservation.ID]
		if !found || existing.State != mut.ReservationFromState {
			return repository.ErrReservationStateChanged
		}
	}

	updated := copyRecord(mut.Record)
	updated.Version = mut.Version + 1
	updated.LastUpdated = time.Now()
	s.records[k] = updated

	entry := *mut.Entry
	entry.CreatedAt = time.Now()
	s.ledger[k] = append(s.ledger[k], entry)

	if mut.Reservation != nil {
		stored := copyReservation(mut.Reservation)
		if mut.ReservationFromState == "" {
			stored.CreatedAt = time.Now()
		} else {
			stored.CreatedAt = s.reservations[stored.ID].CreatedAt
		}
		s.reservations[stored.ID] = stored
	}

	s.events = append(s.events, mut.Events...)

	return nil
}

func (s *Store) GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[id]
	if !ok || res.TenantID != tenantID {
		return nil, repository.ErrReservationNotFound
	}

	return copyReservation(res), nil
}

func (s *Store) FindActiveByOwner(ctx context.Context, tenantID, ownerRef string) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Reservation
	for _, res := range s.reservations {
		if res.TenantID == tenantID && res.OwnerRef == ownerRef && res.State == domain.ReservationStateActive {
			result = append(result, *copyReservation(res))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return result, nil
}

func (s *Store) FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Reservation
	for _, res := range s.reservations {
		if res.State == domain.ReservationStateActive && res.ExpiresAt.Before(now) {
			result = append(result, *copyReservation(res))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (s *Store) UpdateOwnerRef(ctx context.Context, tenantID, fromOwner, toOwner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, res := range s.reservations {
		if res.TenantID == tenantID && res.OwnerRef == fromOwner && res.State == domain.ReservationStateActive {
			res.OwnerRef = toOwner
			count++
		}
	}

	return count, nil
}

func (s *Store) findByFilter(tenantID string, limit, offset int64, match func(*domain.InventoryRecord) bool) ([]domain.InventoryRecord, int64) {
	var all []domain.InventoryRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID && match(rec) {
			all = append(all, *copyRecord(rec))
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ProductID < all[j].ProductID })

	total := int64(len(all))
	if offset >= total {
		return nil, total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return all[offset:end], total
}

func (s *Store) FindLowStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, total := s.findByFilter(tenantID, limit, offset, func(rec *domain.InventoryRecord) bool {
		return rec.Quantity.LessThanOrEqual(rec.MinimumStockLevel) &&
			rec.AvailableQuantity().GreaterThan(decimal.Zero)
	})

	return records, total, nil
}

func (s *Store) FindOutOfStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, total := s.findByFilter(tenantID, limit, offset, func(rec *domain.InventoryRecord) bool {
		return rec.AvailableQuantity().LessThanOrEqual(decimal.Zero)
	})

	return records, total, nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, productID int64, limit, offset int64) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[key(tenantID, productID)]

	total := int64(len(entries))
	if offset >= total {
		return nil, nil
	}

	end := offset + limit
	if end > total {
		end = total
	}

	result := make([]domain.StockTransaction, end-offset)
	copy(result, entries[offset:end])

	return result, nil
}

func (s *Store) Replay(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, entry := range s.ledger[key(tenantID, productID)] {
		total = total.Add(entry.Delta)
	}

	return total, nil
}

func (s *Store) FlagReconciliation(ctx context.Context, tenantID string, productID int64, flagged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(tenantID, productID)]
	if !ok {
		return repository.ErrRecordNotFound
	}

	rec.NeedsReconciliation = flagged

	return nil
}

func (s *Store) SaveEvent(ctx context.Context, tenantID string, event repository.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return nil
}

// Events returns everything queued for publication, in commit order.
func (s *Store) Events() []repository.EventEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]repository.EventEnvelope, len(s.events))
	copy(result, s.events)

	return result
}

// CorruptLedger drops the last n entries for a product. Test helper for
// reconciliation-drift scenarios.
func (s *Store) CorruptLedger(tenantID string, productID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, productID)
	entries := s.ledger[k]
	if n > len(entries) {
		n = len(entries)
	}
	s.ledger[k] = entries[:len(entries)-n]
}
