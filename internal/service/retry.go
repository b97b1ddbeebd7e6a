package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
)

// ErrTooManyConflicts means every retry attempt lost the version race.
// Callers should surface it as a transient failure.
var ErrTooManyConflicts = errors.New("too many concurrent stock modifications")

// withRetry re-runs fn while it fails with ErrVersionConflict, backing off
// exponentially between attempts. Every other error, domain errors included,
// passes through untouched.
func (s *stockEngine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := s.retryBackoff
	var err error

	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}

		s.metrics.VersionConflictsTotal.Inc()
		logger.Debug(ctx, s.logger, "Version conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %d attempts", ErrTooManyConflicts, s.retryAttempts)
}
