package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v80"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

var eventTypes = map[stripe.EventType]domain.GatewayEventType{
	"checkout.session.completed":               domain.GatewayEventCheckoutCompleted,
	"checkout.session.async_payment_succeeded": domain.GatewayEventCheckoutCompleted,
	"checkout.session.async_payment_failed":    domain.GatewayEventCheckoutPaymentFailed,
	"checkout.session.expired":                 domain.GatewayEventCheckoutExpired,
	"payment_intent.succeeded":                 domain.GatewayEventPaymentSucceeded,
	"payment_intent.payment_failed":            domain.GatewayEventPaymentFailed,
	"charge.refunded":                          domain.GatewayEventRefundIssued,
}

// Normalize turns a Stripe event into a gateway event with whatever routing
// keys its object carries. Unknown types come back as unsupported rather than
// as an error so they still land in the ledger.
func Normalize(ev *stripe.Event, receivedAt time.Time) (*domain.GatewayEvent, error) {
	if ev == nil || ev.ID == "" {
		return nil, fmt.Errorf("Normalize: event id missing: %w", domain.ErrValidation)
	}

	out := &domain.GatewayEvent{
		EventID:          ev.ID,
		Type:             domain.GatewayEventUnsupported,
		OccurredAt:       time.Unix(ev.Created, 0).UTC(),
		ReceivedAt:       receivedAt,
		ProcessingStatus: domain.EventStatusReceived,
	}
	if t, ok := eventTypes[ev.Type]; ok {
		out.Type = t
	}

	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		out.Payload = json.RawMessage(`{}`)
		if out.Type != domain.GatewayEventUnsupported {
			return nil, fmt.Errorf("Normalize: %s has no data object: %w", ev.ID, domain.ErrValidation)
		}
		return out, nil
	}
	out.Payload = ev.Data.Raw

	var err error
	switch out.Type {
	case domain.GatewayEventCheckoutCompleted, domain.GatewayEventCheckoutExpired, domain.GatewayEventCheckoutPaymentFailed:
		err = routeSession(out, ev.Data.Raw)
	case domain.GatewayEventPaymentSucceeded, domain.GatewayEventPaymentFailed:
		err = routePaymentIntent(out, ev.Data.Raw)
	case domain.GatewayEventRefundIssued:
		err = routeCharge(out, ev.Data.Raw)
	}
	if err != nil {
		return nil, fmt.Errorf("Normalize: %s: %w", ev.ID, err)
	}
	return out, nil
}

func routeSession(out *domain.GatewayEvent, raw json.RawMessage) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w: %w", domain.ErrValidation, err)
	}
	if sess.ID != "" {
		out.SessionID = &sess.ID
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		out.PaymentRef = &sess.PaymentIntent.ID
	}
	// delayed payment methods complete the session before the money moves;
	// the async_payment_succeeded event that follows carries the payment
	if out.Type == domain.GatewayEventCheckoutCompleted && !sessionSettled(sess.PaymentStatus) {
		out.Type = domain.GatewayEventCheckoutAwaitingPayment
	}
	return attachDraft(out, sess.Metadata)
}

func sessionSettled(status stripe.CheckoutSessionPaymentStatus) bool {
	return status == stripe.CheckoutSessionPaymentStatusPaid ||
		status == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
}

func routePaymentIntent(out *domain.GatewayEvent, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent: %w: %w", domain.ErrValidation, err)
	}
	if pi.ID != "" {
		out.PaymentRef = &pi.ID
	}
	return attachDraft(out, pi.Metadata)
}

func routeCharge(out *domain.GatewayEvent, raw json.RawMessage) error {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return fmt.Errorf("decode charge: %w: %w", domain.ErrValidation, err)
	}
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		out.PaymentRef = &ch.PaymentIntent.ID
	}
	out.OrderID = orderIDFromMetadata(ch.Metadata)
	return nil
}

func attachDraft(out *domain.GatewayEvent, md map[string]string) error {
	out.OrderID = orderIDFromMetadata(md)
	draft, err := DecodeDraft(md)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if draft != nil {
		out.Draft = draft
		if out.OrderID == nil {
			id := draft.OrderID
			out.OrderID = &id
		}
	}
	return nil
}
