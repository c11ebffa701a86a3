package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

// Dispatcher applies acknowledged webhook events off the request path with a
// fixed pool of workers reading a bounded queue.
type Dispatcher struct {
	applier EventApplier
	logger  *slog.Logger
	workers int
	queue   chan domain.GatewayEvent

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(applier EventApplier, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		applier: applier,
		logger:  logger,
		workers: workers,
		queue:   make(chan domain.GatewayEvent, queueSize),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	for w := 0; w < d.workers; w++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			for ev := range d.queue {
				d.handle(ctx, id, ev)
			}
		}(w)
	}
}

// Enqueue hands the event to a worker without blocking. It reports false
// when the queue is full or the dispatcher is stopped; the event then stays
// received in the ledger until the sweeper or reconciler gets to it.
func (d *Dispatcher) Enqueue(ev domain.GatewayEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn("dispatch queue full, leaving event for sweep", "event_id", ev.EventID)
		return false
	}
}

// Stop refuses new events and waits for queued ones to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) handle(ctx context.Context, worker int, ev domain.GatewayEvent) {
	log := d.logger.With("event_id", ev.EventID, "worker", worker)
	ctx = logging.WithLogger(ctx, log)

	res, err := d.applier.ApplyWithRetry(ctx, &ev)
	if err != nil {
		log.Error("dispatch apply failed", "error", err)
		return
	}
	log.Debug("dispatched event handled", "outcome", res.Outcome)
}
