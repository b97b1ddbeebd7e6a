package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

const stockCacheTTL = 30 * time.Second

// cachedStockEngine decorates StockEngine with a short-lived Redis cache on
// the single-product read path. Mutations invalidate the key they touched;
// everything else passes straight through. Background expiry can leave a
// read stale for at most stockCacheTTL, which is why the TTL is short.
type cachedStockEngine struct {
	inner  StockEngine
	store  repository.Store
	redis  *redis.Client
	logger *zap.Logger
}

func NewCachedStockEngine(inner StockEngine, store repository.Store, rdb *redis.Client, log *zap.Logger) StockEngine {
	return &cachedStockEngine{
		inner:  inner,
		store:  store,
		redis:  rdb,
		logger: log,
	}
}

func stockCacheKey(tenantID string, productID int64) string {
	return fmt.Sprintf("stock:%s:%d", tenantID, productID)
}

func (c *cachedStockEngine) GetStockLevel(ctx context.Context, tenantID string, productID int64) (*domain.InventoryRecord, error) {
	key := stockCacheKey(tenantID, productID)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var rec domain.InventoryRecord
		if err := json.Unmarshal([]byte(cached), &rec); err == nil {
			return &rec, nil
		}
		// Unreadable payload, treat as a miss and overwrite below.
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn(ctx, c.logger, "Redis read failed, falling through",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	rec, err := c.inner.GetStockLevel(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rec); err == nil {
		if err := c.redis.Set(ctx, key, data, stockCacheTTL).Err(); err != nil {
			logger.Warn(ctx, c.logger, "Redis write failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	return rec, nil
}

func (c *cachedStockEngine) invalidate(ctx context.Context, tenantID string, productID int64) {
	key := stockCacheKey(tenantID, productID)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		logger.Warn(ctx, c.logger, "Redis invalidation failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (c *cachedStockEngine) AdjustStock(ctx context.Context, in *domain.AdjustStockInput) (*domain.InventoryRecord, error) {
	rec, err := c.inner.AdjustStock(ctx, in)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, in.TenantID, in.ProductID)
	return rec, nil
}

func (c *cachedStockEngine) Reserve(ctx context.Context, in *domain.ReserveInput) (*domain.Reservation, error) {
	res, err := c.inner.Reserve(ctx, in)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, in.TenantID, in.ProductID)
	return res, nil
}

func (c *cachedStockEngine) CommitReservation(ctx context.Context, tenantID string, id uuid.UUID, referenceID string) error {
	if err := c.inner.CommitReservation(ctx, tenantID, id, referenceID); err != nil {
		return err
	}
	c.invalidateReservation(ctx, tenantID, id)
	return nil
}

func (c *cachedStockEngine) ReleaseReservation(ctx context.Context, tenantID string, id uuid.UUID) error {
	if err := c.inner.ReleaseReservation(ctx, tenantID, id); err != nil {
		return err
	}
	c.invalidateReservation(ctx, tenantID, id)
	return nil
}

func (c *cachedStockEngine) invalidateReservation(ctx context.Context, tenantID string, id uuid.UUID) {
	res, err := c.inner.GetReservation(ctx, tenantID, id)
	if err != nil {
		return
	}
	c.invalidate(ctx, tenantID, res.ProductID)
}

func (c *cachedStockEngine) CommitByOwner(ctx context.Context, tenantID, ownerRef, referenceID string) error {
	held, err := c.store.FindActiveByOwner(ctx, tenantID, ownerRef)
	if err != nil {
		return err
	}
	if err := c.inner.CommitByOwner(ctx, tenantID, ownerRef, referenceID); err != nil {
		return err
	}
	for i := range held {
		c.invalidate(ctx, tenantID, held[i].ProductID)
	}
	return nil
}

func (c *cachedStockEngine) ReleaseByOwner(ctx context.Context, tenantID, ownerRef string) error {
	held, err := c.store.FindActiveByOwner(ctx, tenantID, ownerRef)
	if err != nil {
		return err
	}
	if err := c.inner.ReleaseByOwner(ctx, tenantID, ownerRef); err != nil {
		return err
	}
	for i := range held {
		c.invalidate(ctx, tenantID, held[i].ProductID)
	}
	return nil
}

func (c *cachedStockEngine) GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Reservation, error) {
	return c.inner.GetReservation(ctx, tenantID, id)
}

func (c *cachedStockEngine) MigrateOwner(ctx context.Context, tenantID, fromOwner, toOwner string) (int64, error) {
	return c.inner.MigrateOwner(ctx, tenantID, fromOwner, toOwner)
}

func (c *cachedStockEngine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return c.inner.SweepExpired(ctx, now)
}

func (c *cachedStockEngine) ListLowStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	return c.inner.ListLowStock(ctx, tenantID, limit, offset)
}

func (c *cachedStockEngine) ListOutOfStock(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error) {
	return c.inner.ListOutOfStock(ctx, tenantID, limit, offset)
}

func (c *cachedStockEngine) ListLedger(ctx context.Context, tenantID string, productID int64, limit, offset int64) ([]domain.StockTransaction, error) {
	return c.inner.ListLedger(ctx, tenantID, productID, limit, offset)
}

func (c *cachedStockEngine) Reconcile(ctx context.Context, tenantID string, productID int64) (*domain.ReconciliationReport, error) {
	return c.inner.Reconcile(ctx, tenantID, productID)
}
