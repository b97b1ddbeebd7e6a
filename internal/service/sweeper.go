package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

// ExpirySweeper periodically expires lapsed reservations in the background.
type ExpirySweeper struct {
	engine   StockEngine
	interval time.Duration
	logger   *zap.Logger
}

func NewExpirySweeper(engine StockEngine, interval time.Duration, log *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		engine:   engine,
		interval: interval,
		logger:   log,
	}
}

// Start blocks until ctx is cancelled. Intended to run in its own goroutine.
func (w *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info(ctx, w.logger, "Reservation expiry sweeper started",
		zap.Duration("interval", w.interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, w.logger, "Reservation expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.engine.SweepExpired(ctx, time.Now()); err != nil {
				logger.Error(ctx, w.logger, "Sweep pass failed", zap.Error(err))
			}
		}
	}
}
