package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

type GatewayEventType string

const (
	GatewayEventCheckoutCompleted GatewayEventType = "checkout.completed"
	GatewayEventCheckoutExpired   GatewayEventType = "checkout.expired"
	// a completed checkout whose asynchronous payment has not settled yet
	GatewayEventCheckoutAwaitingPayment GatewayEventType = "checkout.awaiting_payment"
	GatewayEventCheckoutPaymentFailed   GatewayEventType = "checkout.payment_failed"
	GatewayEventPaymentSucceeded        GatewayEventType = "payment.succeeded"
	GatewayEventPaymentFailed           GatewayEventType = "payment.failed"
	GatewayEventRefundIssued            GatewayEventType = "refund.issued"
	GatewayEventUnsupported             GatewayEventType = "unsupported"
)

// TargetStatus maps an event type onto the payment status it drives an order to.
func (t GatewayEventType) TargetStatus() (PaymentStatus, bool) {
	switch t {
	case GatewayEventCheckoutCompleted, GatewayEventPaymentSucceeded:
		return PaymentStatusPaid, true
	case GatewayEventPaymentFailed, GatewayEventCheckoutExpired, GatewayEventCheckoutPaymentFailed:
		return PaymentStatusFailed, true
	case GatewayEventRefundIssued:
		return PaymentStatusRefunded, true
	default:
		return "", false
	}
}

type EventProcessingStatus string

const (
	EventStatusReceived EventProcessingStatus = "received"
	EventStatusApplied  EventProcessingStatus = "applied"
	EventStatusSkipped  EventProcessingStatus = "skipped"
	EventStatusFailed   EventProcessingStatus = "failed"
)

// GatewayEvent is one payment gateway notification, normalized from the
// gateway's wire format. OrderID, SessionID and PaymentRef are the routing
// keys the adapter could extract; any of them may be nil.
type GatewayEvent struct {
	EventID          string
	Type             GatewayEventType
	OccurredAt       time.Time
	Payload          json.RawMessage
	ReceivedAt       time.Time
	ProcessingStatus EventProcessingStatus
	OrderID          *uuid.UUID
	SessionID        *string
	PaymentRef       *string
	Draft            *OrderDraft
	Reason           *string
	Attempts         int
	AppliedAt        *time.Time
}

// EventState is the ledger's recorded outcome for one event.
type EventState struct {
	Status  EventProcessingStatus
	OrderID *uuid.UUID
	Reason  *string
}

// RoutingKey groups events that must be applied serially. Events with no
// routing information fall back to their own id.
func (e *GatewayEvent) RoutingKey() string {
	switch {
	case e.OrderID != nil:
		return "order:" + e.OrderID.String()
	case e.SessionID != nil:
		return "session:" + *e.SessionID
	case e.PaymentRef != nil:
		return "payment:" + *e.PaymentRef
	default:
		return "event:" + e.EventID
	}
}

// RoutingKeys returns every routing key the event carries, most specific
// first. Events sharing any key touch the same order.
func (e *GatewayEvent) RoutingKeys() []string {
	var keys []string
	if e.OrderID != nil {
		keys = append(keys, "order:"+e.OrderID.String())
	}
	if e.SessionID != nil {
		keys = append(keys, "session:"+*e.SessionID)
	}
	if e.PaymentRef != nil {
		keys = append(keys, "payment:"+*e.PaymentRef)
	}
	if len(keys) == 0 {
		keys = append(keys, "event:"+e.EventID)
	}
	return keys
}

// SortEvents orders events by occurrence time, then event id, giving a total
// order over events that share a timestamp.
func SortEvents(events []GatewayEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].EventID < events[j].EventID
	})
}
