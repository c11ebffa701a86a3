package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	events    []domain.GatewayEvent
	listErrs  []error
	listCalls int
	createErr error
	drafts    []domain.OrderDraft
}

func (g *fakeGateway) CreateSession(_ context.Context, draft domain.OrderDraft) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.drafts = append(g.drafts, draft)
	return &domain.CheckoutSession{
		SessionID:   "cs_test_" + draft.OrderID.String(),
		RedirectURL: "https://checkout.test/" + draft.OrderID.String(),
		OrderID:     draft.OrderID,
	}, nil
}

func (g *fakeGateway) ListEvents(_ context.Context, since, until time.Time) ([]domain.GatewayEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	if len(g.listErrs) > 0 {
		err := g.listErrs[0]
		g.listErrs = g.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []domain.GatewayEvent
	for _, e := range g.events {
		if !e.OccurredAt.Before(since) && !e.OccurredAt.After(until) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	statuses map[string]domain.EventProcessingStatus
	failed   map[string]string
	reasons  map[string]string
	pending  []domain.GatewayEvent
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		statuses: map[string]domain.EventProcessingStatus{},
		failed:   map[string]string{},
		reasons:  map[string]string{},
	}
}

func (l *fakeLedger) StatesByIDs(_ context.Context, ids []string) (map[string]domain.EventState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]domain.EventState{}
	for _, id := range ids {
		if s, ok := l.statuses[id]; ok {
			st := domain.EventState{Status: s}
			if reason, ok := l.reasons[id]; ok {
				st.Reason = &reason
			}
			out[id] = st
		}
	}
	return out, nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, eventID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[eventID] = domain.EventStatusFailed
	l.failed[eventID] = reason
	return nil
}

func (l *fakeLedger) ListPending(_ context.Context, _ time.Time, limit int) ([]domain.GatewayEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > limit {
		return l.pending[:limit], nil
	}
	return l.pending, nil
}

// fakeApplier marks events applied in the shared ledger, or returns a
// scripted outcome or error per event id.
type fakeApplier struct {
	mu       sync.Mutex
	ledger   *fakeLedger
	outcomes map[string]ApplyOutcome
	errs     map[string]error
	delay    time.Duration
	calls    []string
	inFlight int
	maxSeen  int
}

func (a *fakeApplier) ApplyWithRetry(_ context.Context, ev *domain.GatewayEvent) (*ApplyResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, ev.EventID)
	a.inFlight++
	if a.inFlight > a.maxSeen {
		a.maxSeen = a.inFlight
	}
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight--

	if err := a.errs[ev.EventID]; err != nil {
		return nil, err
	}
	outcome := OutcomeApplied
	if o, ok := a.outcomes[ev.EventID]; ok {
		outcome = o
	}
	res := &ApplyResult{EventID: ev.EventID, Outcome: outcome, OrderID: ev.OrderID}
	if outcome == OutcomeSkipped {
		res.Reason = "illegal payment status transition: pending_checkout -> refunded"
	}
	if a.ledger != nil {
		a.ledger.mu.Lock()
		switch outcome {
		case OutcomeApplied, OutcomeNoop, OutcomeAlreadyApplied:
			a.ledger.statuses[ev.EventID] = domain.EventStatusApplied
		case OutcomeSkipped:
			a.ledger.statuses[ev.EventID] = domain.EventStatusSkipped
			a.ledger.reasons[ev.EventID] = res.Reason
		}
		a.ledger.mu.Unlock()
	}
	return res, nil
}

func (a *fakeApplier) called() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type fakeCheckoutOrders struct {
	orders   map[uuid.UUID]*domain.Order
	attached map[uuid.UUID]string
}

func (f *fakeCheckoutOrders) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeCheckoutOrders) AttachSession(_ context.Context, id uuid.UUID, sessionID string) error {
	o, ok := f.orders[id]
	if !ok || (o.PaymentStatus != domain.PaymentStatusNone && o.PaymentStatus != domain.PaymentStatusPendingCheckout) {
		return domain.ErrVersionConflict
	}
	if f.attached == nil {
		f.attached = map[uuid.UUID]string{}
	}
	f.attached[id] = sessionID
	o.PaymentStatus = domain.PaymentStatusPendingCheckout
	o.GatewaySessionID = &sessionID
	return nil
}
