package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

type pendingLedger interface {
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.GatewayEvent, error)
}

// Sweeper re-applies ledger events that were acknowledged but never applied,
// for example because the dispatch queue was full or the process restarted.
// It needs no gateway round trip, unlike the reconciler.
type Sweeper struct {
	ledger    pendingLedger
	applier   EventApplier
	logger    *slog.Logger
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

func NewSweeper(
	ledger pendingLedger,
	applier EventApplier,
	logger *slog.Logger,
	interval time.Duration,
	grace time.Duration,
	batchSize int,
) *Sweeper {
	return &Sweeper{
		ledger:    ledger,
		applier:   applier,
		logger:    logger,
		interval:  interval,
		grace:     grace,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("pending event sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending event sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep applies one batch of pending events and returns how many were handled
// without error.
func (s *Sweeper) Sweep(ctx context.Context) int {
	// the grace period keeps the sweeper off events the dispatcher still holds
	events, err := s.ledger.ListPending(ctx, s.now().Add(-s.grace), s.batchSize)
	if err != nil {
		s.logger.Error("failed to fetch pending gateway events", "error", err)
		return 0
	}

	handled := 0
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.applier.ApplyWithRetry(ctx, &events[i]); err != nil {
			s.logger.Error("failed to apply pending gateway event",
				"event_id", events[i].EventID,
				"error", err,
			)
			continue
		}
		handled++
	}

	if len(events) > 0 {
		s.logger.Info("pending events swept", "found", len(events), "handled", handled)
	}
	return handled
}
