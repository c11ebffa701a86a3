package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type ApplyOutcome string

const (
	OutcomeApplied        ApplyOutcome = "applied"
	OutcomeNoop           ApplyOutcome = "noop"
	OutcomeSkipped        ApplyOutcome = "skipped"
	OutcomeAlreadyApplied ApplyOutcome = "already_applied"
)

// ApplyResult describes what one application did to the ledger and order.
type ApplyResult struct {
	EventID string
	Outcome ApplyOutcome
	OrderID *uuid.UUID
	From    domain.PaymentStatus
	To      domain.PaymentStatus
	Reason  string

	sessionID  *string
	paymentRef *string
}

func (r *ApplyResult) mutated() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeNoop
}

type ApplierConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RedriveLimit   int
}

// Applier is the single writer of order payment status in response to
// gateway events. Webhooks, the sweeper and the reconciler all go through it.
type Applier struct {
	ledger      ledgerRepository
	orders      orderRepository
	transitions transitionRepository
	db          txRunner
	cfg         ApplierConfig
	now         func() time.Time
}

func NewApplier(
	ledger ledgerRepository,
	orders orderRepository,
	transitions transitionRepository,
	db txRunner,
	cfg ApplierConfig,
	now func() time.Time,
) *Applier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RedriveLimit <= 0 {
		cfg.RedriveLimit = 50
	}
	if now == nil {
		now = time.Now
	}
	return &Applier{
		ledger:      ledger,
		orders:      orders,
		transitions: transitions,
		db:          db,
		cfg:         cfg,
		now:         now,
	}
}

// Apply records the event in the ledger if it is new and applies it to its
// order at most once. Illegal, stale and unroutable events are recorded as
// skipped and are not errors.
func (a *Applier) Apply(ctx context.Context, event *domain.GatewayEvent) (*ApplyResult, error) {
	existing, err := a.ledger.Get(ctx, event.EventID)
	switch {
	case err == nil:
		if existing.ProcessingStatus == domain.EventStatusApplied {
			return &ApplyResult{EventID: event.EventID, Outcome: OutcomeAlreadyApplied, OrderID: existing.OrderID}, nil
		}
	case errors.Is(err, domain.ErrNotFound):
		if _, err := a.ledger.Insert(ctx, event); err != nil {
			return nil, fmt.Errorf("Apply: %w", err)
		}
	default:
		return nil, fmt.Errorf("Apply: %w", err)
	}

	res, err := a.applyOnce(ctx, event.EventID)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	if res.mutated() && res.OrderID != nil {
		a.redrive(ctx, res)
	}
	return res, nil
}

// ApplyWithRetry retries Apply on storage failures with exponential backoff.
// Any other error is returned at once.
func (a *Applier) ApplyWithRetry(ctx context.Context, event *domain.GatewayEvent) (*ApplyResult, error) {
	log := logging.FromContext(ctx)

	eb := backoff.NewExponentialBackOff()
	if a.cfg.InitialBackoff > 0 {
		eb.InitialInterval = a.cfg.InitialBackoff
	}
	if a.cfg.MaxBackoff > 0 {
		eb.MaxInterval = a.cfg.MaxBackoff
	}
	eb.MaxElapsedTime = 0

	var res *ApplyResult
	attempt := 0
	op := func() error {
		attempt++
		r, err := a.Apply(ctx, event)
		if err != nil {
			if domain.IsStorage(err) || errors.Is(err, domain.ErrVersionConflict) {
				log.Warn("apply attempt failed", "event_id", event.EventID, "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("ApplyWithRetry: %w", err)
	}
	return res, nil
}

func (a *Applier) applyOnce(ctx context.Context, eventID string) (*ApplyResult, error) {
	var res *ApplyResult
	err := a.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = a.applyLocked(ctx, tx, eventID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	switch res.Outcome {
	case OutcomeApplied:
		log.Info("gateway event applied",
			"event_id", eventID, "order_id", res.OrderID, "from", res.From, "to", res.To)
	case OutcomeSkipped:
		log.Warn("gateway event skipped", "event_id", eventID, "order_id", res.OrderID, "reason", res.Reason)
	default:
		log.Debug("gateway event handled", "event_id", eventID, "outcome", res.Outcome)
	}
	return res, nil
}

func (a *Applier) applyLocked(ctx context.Context, tx *sql.Tx, eventID string) (*ApplyResult, error) {
	row, err := a.ledger.GetForUpdate(ctx, tx, eventID)
	if err != nil {
		return nil, fmt.Errorf("applyLocked: %w", err)
	}
	res := &ApplyResult{EventID: eventID, OrderID: row.OrderID}
	if row.ProcessingStatus == domain.EventStatusApplied {
		res.Outcome = OutcomeAlreadyApplied
		return res, nil
	}

	target, ok := row.Type.TargetStatus()
	if !ok {
		return a.skip(ctx, tx, res, fmt.Sprintf("event type %q does not move payment status", row.Type))
	}

	order, err := a.resolveOrder(ctx, tx, row)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return a.skip(ctx, tx, res, "no order for event")
		}
		return nil, fmt.Errorf("applyLocked: %w", err)
	}

	res.OrderID = &order.ID
	res.From = order.PaymentStatus
	res.To = order.PaymentStatus
	res.sessionID = order.GatewaySessionID
	res.paymentRef = order.GatewayPaymentRef
	if res.paymentRef == nil {
		res.paymentRef = row.PaymentRef
	}

	now := a.now().UTC()
	if order.PaymentStatus == target {
		if err := a.orders.Touch(ctx, tx, order.ID, row.EventID, row.PaymentRef, row.OccurredAt); err != nil {
			return nil, fmt.Errorf("applyLocked: %w", err)
		}
		if err := a.ledger.MarkApplied(ctx, tx, row.EventID, order.ID, now); err != nil {
			return nil, fmt.Errorf("applyLocked: %w", err)
		}
		res.Outcome = OutcomeNoop
		return res, nil
	}

	if order.LastAppliedAt != nil && row.OccurredAt.Before(*order.LastAppliedAt) {
		return a.skip(ctx, tx, res, fmt.Sprintf("%s: occurred %s before last applied event at %s",
			domain.ErrStaleEvent, row.OccurredAt.Format(time.RFC3339), order.LastAppliedAt.Format(time.RFC3339)))
	}

	if !order.PaymentStatus.CanTransitionTo(target) {
		return a.skip(ctx, tx, res, fmt.Sprintf("%s: %s -> %s", domain.ErrIllegalTransition, order.PaymentStatus, target))
	}

	if err := a.orders.ApplyTransition(ctx, tx, order.ID, order.PaymentStatus, target, row.EventID, row.PaymentRef, row.OccurredAt); err != nil {
		return nil, fmt.Errorf("applyLocked: %w", err)
	}
	if err := a.transitions.Create(ctx, tx, &domain.OrderTransition{
		ID:         uuid.New(),
		OrderID:    order.ID,
		EventID:    row.EventID,
		FromStatus: order.PaymentStatus,
		ToStatus:   target,
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("applyLocked: %w", err)
	}
	if err := a.ledger.MarkApplied(ctx, tx, row.EventID, order.ID, now); err != nil {
		return nil, fmt.Errorf("applyLocked: %w", err)
	}

	res.Outcome = OutcomeApplied
	res.To = target
	return res, nil
}

func (a *Applier) skip(ctx context.Context, tx *sql.Tx, res *ApplyResult, reason string) (*ApplyResult, error) {
	if err := a.ledger.MarkSkipped(ctx, tx, res.EventID, res.OrderID, reason); err != nil {
		return nil, fmt.Errorf("skip: %w", err)
	}
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	return res, nil
}

// resolveOrder locks the order the event refers to, trying the order id,
// the gateway session and the payment reference in that order. A completed
// checkout with no order yet materializes one from its draft.
func (a *Applier) resolveOrder(ctx context.Context, tx *sql.Tx, row *domain.GatewayEvent) (*domain.Order, error) {
	if row.OrderID != nil {
		o, err := a.orders.GetForUpdate(ctx, tx, *row.OrderID)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return o, err
		}
	}
	if row.SessionID != nil {
		o, err := a.orders.GetBySessionForUpdate(ctx, tx, *row.SessionID)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return o, err
		}
	}
	if row.PaymentRef != nil {
		o, err := a.orders.GetByPaymentRefForUpdate(ctx, tx, *row.PaymentRef)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return o, err
		}
	}

	if row.Type != domain.GatewayEventCheckoutCompleted || row.Draft == nil || row.SessionID == nil {
		return nil, fmt.Errorf("resolveOrder: %w", domain.ErrOrderNotFound)
	}
	return a.materialize(ctx, tx, row)
}

func (a *Applier) materialize(ctx context.Context, tx *sql.Tx, row *domain.GatewayEvent) (*domain.Order, error) {
	if err := row.Draft.Validate(); err != nil {
		return nil, fmt.Errorf("materialize: draft for %s: %w", row.EventID, domain.ErrOrderNotFound)
	}

	now := a.now().UTC()
	order, err := row.Draft.Materialize(*row.SessionID, now)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}

	created, err := a.orders.CreateIfAbsent(ctx, tx, order)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}

	locked, err := a.orders.GetForUpdate(ctx, tx, order.ID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		locked, err = a.orders.GetBySessionForUpdate(ctx, tx, *row.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}

	if created {
		if err := a.transitions.Create(ctx, tx, &domain.OrderTransition{
			ID:         uuid.New(),
			OrderID:    order.ID,
			EventID:    row.EventID,
			FromStatus: domain.PaymentStatusNone,
			ToStatus:   domain.PaymentStatusPendingCheckout,
			CreatedAt:  now,
		}); err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
		logging.FromContext(ctx).Info("order materialized from checkout draft",
			"order_id", order.ID, "session_id", *row.SessionID, "event_id", row.EventID)
	}
	return locked, nil
}

// redrive re-applies the order's skipped events, oldest first, after it has
// moved, so a refund seen before its payment still lands. Each round stops at
// the first event that applies and lists again from the new state.
func (a *Applier) redrive(ctx context.Context, res *ApplyResult) {
	log := logging.FromContext(ctx)

	for i := 0; i < a.cfg.RedriveLimit; i++ {
		pending, err := a.ledger.ListSkipped(ctx, *res.OrderID, res.sessionID, res.paymentRef, a.cfg.RedriveLimit)
		if err != nil {
			log.Warn("redrive lookup failed", "order_id", res.OrderID, "error", err)
			return
		}

		progressed := false
		for _, ev := range pending {
			r, err := a.applyOnce(ctx, ev.EventID)
			if err != nil {
				log.Warn("redrive apply failed", "event_id", ev.EventID, "error", err)
				return
			}
			if r.mutated() {
				progressed = true
				break
			}
		}
		if !progressed {
			return
		}
	}
}
