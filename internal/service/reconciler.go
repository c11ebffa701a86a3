package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type reconcileLedger interface {
	StatesByIDs(ctx context.Context, ids []string) (map[string]domain.EventState, error)
	MarkFailed(ctx context.Context, eventID string, reason string) error
}

type ReconcilerConfig struct {
	MaxLimit           int
	MaxWindowHours     int
	Workers            int
	Budget             time.Duration
	FetchAttempts      int
	FetchBackoff       time.Duration
	Interval           time.Duration
	DefaultLimit       int
	DefaultWindowHours int
}

type Anomaly struct {
	EventID string                  `json:"event_id"`
	Type    domain.GatewayEventType `json:"type"`
	OrderID *uuid.UUID              `json:"order_id,omitempty"`
	Reason  string                  `json:"reason"`
}

type Failure struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// ReconcileReport summarizes one reconciliation run. Watermark is the
// occurrence time of the last event in the window such that it and every
// earlier event has been handled.
type ReconcileReport struct {
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	Examined       int        `json:"examined"`
	Applied        int        `json:"applied"`
	Skipped        int        `json:"skipped"`
	Failed         int        `json:"failed"`
	AlreadyApplied int        `json:"already_applied"`
	Deferred       int        `json:"deferred"`
	Partial        bool       `json:"partial"`
	Watermark      *time.Time `json:"watermark,omitempty"`
	Anomalies      []Anomaly  `json:"anomalies"`
	Failures       []Failure  `json:"failures"`
	DurationMS     int64      `json:"duration_ms"`
}

// Reconciler replays the gateway's event history for a window through the
// applier, catching events whose webhooks never arrived or never applied.
type Reconciler struct {
	gateway Gateway
	ledger  reconcileLedger
	applier EventApplier
	logger  *slog.Logger
	cfg     ReconcilerConfig
	now     func() time.Time
}

func NewReconciler(
	gateway Gateway,
	ledger reconcileLedger,
	applier EventApplier,
	logger *slog.Logger,
	cfg ReconcilerConfig,
	now func() time.Time,
) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		gateway: gateway,
		ledger:  ledger,
		applier: applier,
		logger:  logger,
		cfg:     cfg,
		now:     now,
	}
}

// Start runs Reconcile with the default limit and window on every tick until
// ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("reconciler started", "interval", r.cfg.Interval,
		"limit", r.cfg.DefaultLimit, "window_hours", r.cfg.DefaultWindowHours)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			runCtx := logging.WithLogger(ctx, r.logger.With("trigger", "ticker"))
			if _, err := r.Reconcile(runCtx, r.cfg.DefaultLimit, r.cfg.DefaultWindowHours); err != nil {
				r.logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, limit, windowHours int) (*ReconcileReport, error) {
	log := logging.FromContext(ctx)

	if limit < 1 || limit > r.cfg.MaxLimit {
		return nil, fmt.Errorf("Reconcile: limit must be between 1 and %d: %w", r.cfg.MaxLimit, domain.ErrValidation)
	}
	if windowHours < 1 || windowHours > r.cfg.MaxWindowHours {
		return nil, fmt.Errorf("Reconcile: window_hours must be between 1 and %d: %w", r.cfg.MaxWindowHours, domain.ErrValidation)
	}

	start := r.now()
	report := &ReconcileReport{
		WindowStart: start.Add(-time.Duration(windowHours) * time.Hour).UTC(),
		WindowEnd:   start.UTC(),
		Anomalies:   []Anomaly{},
		Failures:    []Failure{},
	}

	history, err := r.fetchHistory(ctx, report.WindowStart, report.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	domain.SortEvents(history)

	ids := make([]string, len(history))
	for i := range history {
		ids[i] = history[i].EventID
	}
	states, err := r.ledger.StatesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	// handled is indexed like history. Applied and skipped rows are not
	// charged to limit; skipped ones are re-driven by the applier when their
	// order moves.
	handled := make([]bool, len(history))
	var candidates []int
	for i := range history {
		ev := history[i]
		st, ok := states[ev.EventID]
		switch {
		case ok && st.Status == domain.EventStatusApplied:
			handled[i] = true
			report.AlreadyApplied++
		case ok && st.Status == domain.EventStatusSkipped:
			handled[i] = true
			report.Skipped++
			report.Anomalies = append(report.Anomalies, skippedAnomaly(ev, st))
		default:
			candidates = append(candidates, i)
		}
	}
	if len(candidates) > limit {
		report.Deferred = len(candidates) - limit
		candidates = candidates[:limit]
	}

	r.applyCandidates(ctx, history, candidates, handled, report)

	for i := range history {
		if !handled[i] {
			break
		}
		wm := history[i].OccurredAt
		report.Watermark = &wm
	}
	report.DurationMS = r.now().Sub(start).Milliseconds()

	log.Info("reconciliation finished",
		"examined", report.Examined,
		"applied", report.Applied,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"already_applied", report.AlreadyApplied,
		"deferred", report.Deferred,
		"partial", report.Partial,
		"duration_ms", report.DurationMS,
	)
	return report, nil
}

// applyCandidates runs the candidates grouped by shared routing keys: groups
// in parallel, events within a group in order. Once the budget is spent no new
// event starts, but events already running finish.
func (r *Reconciler) applyCandidates(ctx context.Context, history []domain.GatewayEvent, candidates []int, handled []bool, report *ReconcileReport) {
	if len(candidates) == 0 {
		return
	}

	groups := groupByRoutingKeys(history, candidates)

	budgetCtx := ctx
	if r.cfg.Budget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, r.cfg.Budget)
		defer cancel()
	}
	applyCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	started := 0

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, idxs := range groups {
		if budgetCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, i := range idxs {
				if budgetCtx.Err() != nil {
					return nil
				}
				mu.Lock()
				started++
				mu.Unlock()

				ev := history[i]
				res, err := r.applier.ApplyWithRetry(applyCtx, &ev)

				mu.Lock()
				r.record(applyCtx, ev, res, err, report)
				handled[i] = err == nil
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Examined = started
	if notStarted := len(candidates) - started; notStarted > 0 {
		report.Partial = true
		report.Deferred += notStarted
	}
}

// groupByRoutingKeys partitions candidates so that any two events sharing an
// order id, session or payment reference land in the same group, directly or
// through a chain of events. Groups and their members keep history order.
func groupByRoutingKeys(history []domain.GatewayEvent, candidates []int) [][]int {
	parent := make([]int, len(candidates))
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	owner := make(map[string]int)
	for pos, i := range candidates {
		for _, k := range history[i].RoutingKeys() {
			if other, ok := owner[k]; ok {
				a, b := find(pos), find(other)
				if a != b {
					// the earlier event stays root so group order follows history
					if a < b {
						parent[b] = a
					} else {
						parent[a] = b
					}
				}
				continue
			}
			owner[k] = pos
		}
	}

	var groups [][]int
	slot := make(map[int]int)
	for pos, i := range candidates {
		root := find(pos)
		gi, ok := slot[root]
		if !ok {
			gi = len(groups)
			slot[root] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}
	return groups
}

func skippedAnomaly(ev domain.GatewayEvent, st domain.EventState) Anomaly {
	a := Anomaly{EventID: ev.EventID, Type: ev.Type, OrderID: st.OrderID, Reason: "skipped"}
	if a.OrderID == nil {
		a.OrderID = ev.OrderID
	}
	if st.Reason != nil && *st.Reason != "" {
		a.Reason = *st.Reason
	}
	return a
}

// record must be called with the report lock held.
func (r *Reconciler) record(ctx context.Context, ev domain.GatewayEvent, res *ApplyResult, err error, report *ReconcileReport) {
	if err != nil {
		report.Failed++
		report.Failures = append(report.Failures, Failure{EventID: ev.EventID, Error: err.Error()})
		if mfErr := r.ledger.MarkFailed(ctx, ev.EventID, err.Error()); mfErr != nil {
			logging.FromContext(ctx).Warn("failed to mark event failed", "event_id", ev.EventID, "error", mfErr)
		}
		return
	}

	switch res.Outcome {
	case OutcomeApplied, OutcomeNoop:
		report.Applied++
	case OutcomeAlreadyApplied:
		report.AlreadyApplied++
	case OutcomeSkipped:
		report.Skipped++
		report.Anomalies = append(report.Anomalies, Anomaly{
			EventID: ev.EventID,
			Type:    ev.Type,
			OrderID: res.OrderID,
			Reason:  res.Reason,
		})
	}
}

func (r *Reconciler) fetchHistory(ctx context.Context, since, until time.Time) ([]domain.GatewayEvent, error) {
	log := logging.FromContext(ctx)

	eb := backoff.NewExponentialBackOff()
	if r.cfg.FetchBackoff > 0 {
		eb.InitialInterval = r.cfg.FetchBackoff
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.FetchAttempts-1)), ctx)

	var events []domain.GatewayEvent
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		events, err = r.gateway.ListEvents(ctx, since, until)
		if err != nil {
			if !errors.Is(err, domain.ErrGateway) {
				return backoff.Permanent(err)
			}
			log.Warn("gateway history fetch failed", "attempt", attempt, "error", err)
		}
		return err
	}, b)
	if err != nil {
		return nil, fmt.Errorf("fetchHistory: %w", err)
	}
	return events, nil
}
