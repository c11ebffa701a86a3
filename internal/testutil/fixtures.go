package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
	"github.com/tablepay/payments-reconciler/internal/repository"
)

// Draft returns a valid two-line draft totalling 1999 GBP.
func Draft() domain.OrderDraft {
	return domain.OrderDraft{
		OrderID:         uuid.New(),
		RestaurantID:    uuid.New(),
		TableSessionID:  "table-12",
		Currency:        "GBP",
		TotalMinorUnits: 1999,
		LineItems: []domain.LineItem{
			{Name: "Margherita", Quantity: 1, UnitMinorUnits: 1299},
			{Name: "Lemonade", Quantity: 2, UnitMinorUnits: 350},
		},
	}
}

// SeedOrder inserts an order directly in the given status.
func SeedOrder(t *testing.T, db *sql.DB, status domain.PaymentStatus, sessionID string) *domain.Order {
	t.Helper()

	d := Draft()
	items, _ := json.Marshal(d.LineItems)
	now := time.Now().UTC()
	o := &domain.Order{
		ID:              d.OrderID,
		RestaurantID:    d.RestaurantID,
		PaymentStatus:   status,
		TotalMinorUnits: d.TotalMinorUnits,
		Currency:        d.Currency,
		LineItems:       items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if sessionID != "" {
		o.GatewaySessionID = &sessionID
	}

	if err := repository.NewOrderRepository(db).Create(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

// Event builds a gateway event routed to the session, and to the order when
// orderID is not nil.
func Event(id string, typ domain.GatewayEventType, sessionID string, orderID *uuid.UUID, occurredAt time.Time) *domain.GatewayEvent {
	ev := &domain.GatewayEvent{
		EventID:          id,
		Type:             typ,
		OccurredAt:       occurredAt.UTC().Truncate(time.Second),
		Payload:          json.RawMessage(`{}`),
		ReceivedAt:       time.Now().UTC(),
		ProcessingStatus: domain.EventStatusReceived,
		OrderID:          orderID,
	}
	if sessionID != "" {
		ev.SessionID = &sessionID
	}
	return ev
}

// CheckoutCompleted builds a checkout.completed event carrying the draft.
func CheckoutCompleted(id, sessionID string, d domain.OrderDraft, occurredAt time.Time) *domain.GatewayEvent {
	oid := d.OrderID
	ev := Event(id, domain.GatewayEventCheckoutCompleted, sessionID, &oid, occurredAt)
	ev.Draft = &d
	return ev
}

func OrderStatus(t *testing.T, db *sql.DB, orderID uuid.UUID) domain.PaymentStatus {
	t.Helper()

	var status domain.PaymentStatus
	if err := db.QueryRow(`SELECT payment_status FROM orders WHERE id = $1`, orderID).Scan(&status); err != nil {
		t.Fatalf("get order status %s: %v", orderID, err)
	}
	return status
}

func EventStatus(t *testing.T, db *sql.DB, eventID string) domain.EventProcessingStatus {
	t.Helper()

	var status domain.EventProcessingStatus
	if err := db.QueryRow(`SELECT processing_status FROM gateway_events WHERE event_id = $1`, eventID).Scan(&status); err != nil {
		t.Fatalf("get event status %s: %v", eventID, err)
	}
	return status
}

func LastAppliedEvent(t *testing.T, db *sql.DB, orderID uuid.UUID) string {
	t.Helper()

	var id sql.NullString
	if err := db.QueryRow(`SELECT last_applied_event_id FROM orders WHERE id = $1`, orderID).Scan(&id); err != nil {
		t.Fatalf("get last applied event %s: %v", orderID, err)
	}
	return id.String
}

func CountOrders(t *testing.T, db *sql.DB) int {
	t.Helper()
	return count(t, db, `SELECT COUNT(*) FROM orders`)
}

func CountTransitions(t *testing.T, db *sql.DB, orderID uuid.UUID) int {
	t.Helper()
	return count(t, db, `SELECT COUNT(*) FROM order_transitions WHERE order_id = $1`, orderID)
}

func CountAppliedEvents(t *testing.T, db *sql.DB, eventID string) int {
	t.Helper()
	return count(t, db, `SELECT COUNT(*) FROM gateway_events WHERE event_id = $1 AND processing_status = 'applied'`, eventID)
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func DiscardLogger() *slog.Logger {
	return logging.Discard()
}
