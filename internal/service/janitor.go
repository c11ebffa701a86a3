package service

import (
	"context"
	"log/slog"
	"time"
)

type expiringCache interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// IdempotencyJanitor purges expired idempotency entries on a ticker.
type IdempotencyJanitor struct {
	cache    expiringCache
	logger   *slog.Logger
	interval time.Duration
}

func NewIdempotencyJanitor(cache expiringCache, logger *slog.Logger, interval time.Duration) *IdempotencyJanitor {
	return &IdempotencyJanitor{cache: cache, logger: logger, interval: interval}
}

func (j *IdempotencyJanitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Purge(ctx)
		}
	}
}

func (j *IdempotencyJanitor) Purge(ctx context.Context) int64 {
	n, err := j.cache.CleanExpired(ctx)
	if err != nil {
		j.logger.Error("failed to purge idempotency cache", "error", err)
		return 0
	}
	if n > 0 {
		j.logger.Info("purged expired idempotency entries", "count", n)
	}
	return n
}
