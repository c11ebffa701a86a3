package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

func checkoutDraft() domain.OrderDraft {
	return domain.OrderDraft{
		RestaurantID:    uuid.New(),
		TableSessionID:  "table-4",
		Currency:        "GBP",
		TotalMinorUnits: 1999,
		LineItems: []domain.LineItem{
			{Name: "Margherita", Quantity: 1, UnitMinorUnits: 1299},
			{Name: "Lemonade", Quantity: 2, UnitMinorUnits: 350},
		},
	}
}

func TestCheckout_DeferredWritesNothing(t *testing.T) {
	gw := &fakeGateway{}
	orders := &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{}}
	svc := NewCheckoutService(gw, orders)

	sess, err := svc.CreateSession(context.Background(), checkoutDraft())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.NotEmpty(t, sess.RedirectURL)
	assert.NotEqual(t, uuid.Nil, sess.OrderID)

	require.Len(t, gw.drafts, 1)
	assert.Equal(t, int64(1999), gw.drafts[0].TotalMinorUnits)
	assert.Equal(t, sess.OrderID, gw.drafts[0].OrderID)
	assert.Empty(t, orders.attached)
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *domain.OrderDraft)
	}{
		{"zero amount", func(d *domain.OrderDraft) { d.TotalMinorUnits = 0 }},
		{"bad currency", func(d *domain.OrderDraft) { d.Currency = "pounds" }},
		{"no items", func(d *domain.OrderDraft) { d.LineItems = nil }},
		{"no restaurant", func(d *domain.OrderDraft) { d.RestaurantID = uuid.Nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			svc := NewCheckoutService(gw, &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{}})

			d := checkoutDraft()
			tt.mutate(&d)
			_, err := svc.CreateSession(context.Background(), d)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, gw.drafts, "gateway must not be called")
		})
	}
}

func TestCheckout_GatewayError(t *testing.T) {
	gw := &fakeGateway{createErr: fmt.Errorf("stripe: %w", domain.ErrGateway)}
	svc := NewCheckoutService(gw, &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{}})

	_, err := svc.CreateSession(context.Background(), checkoutDraft())
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func existingOrder(d domain.OrderDraft, status domain.PaymentStatus) *domain.Order {
	return &domain.Order{
		ID:              d.OrderID,
		RestaurantID:    d.RestaurantID,
		PaymentStatus:   status,
		TotalMinorUnits: d.TotalMinorUnits,
		Currency:        d.Currency,
	}
}

func TestCheckout_EagerOrder(t *testing.T) {
	d := checkoutDraft()
	d.OrderID = uuid.New()
	orders := &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{
		d.OrderID: existingOrder(d, domain.PaymentStatusNone),
	}}
	svc := NewCheckoutService(&fakeGateway{}, orders)

	sess, err := svc.CreateSession(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, d.OrderID, sess.OrderID)
	assert.Equal(t, sess.SessionID, orders.attached[d.OrderID])
	assert.Equal(t, domain.PaymentStatusPendingCheckout, orders.orders[d.OrderID].PaymentStatus)
}

func TestCheckout_RetryAfterFailureIsNewOrder(t *testing.T) {
	d := checkoutDraft()
	d.OrderID = uuid.New()
	failed := existingOrder(d, domain.PaymentStatusFailed)
	orders := &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{d.OrderID: failed}}
	gw := &fakeGateway{}
	svc := NewCheckoutService(gw, orders)

	sess, err := svc.CreateSession(context.Background(), d)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, sess.OrderID)
	require.Len(t, gw.drafts, 1)
	require.NotNil(t, gw.drafts[0].PreviousOrderID)
	assert.Equal(t, failed.ID, *gw.drafts[0].PreviousOrderID)
	assert.Equal(t, domain.PaymentStatusFailed, failed.PaymentStatus)
	assert.Empty(t, orders.attached)
}

func TestCheckout_PaidOrderRejected(t *testing.T) {
	for _, status := range []domain.PaymentStatus{domain.PaymentStatusPaid, domain.PaymentStatusRefunded} {
		t.Run(string(status), func(t *testing.T) {
			d := checkoutDraft()
			d.OrderID = uuid.New()
			gw := &fakeGateway{}
			svc := NewCheckoutService(gw, &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{
				d.OrderID: existingOrder(d, status),
			}})

			_, err := svc.CreateSession(context.Background(), d)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, gw.drafts)
		})
	}
}

func TestCheckout_EagerAmountMismatch(t *testing.T) {
	d := checkoutDraft()
	d.OrderID = uuid.New()
	o := existingOrder(d, domain.PaymentStatusNone)
	o.TotalMinorUnits = 2500
	svc := NewCheckoutService(&fakeGateway{}, &fakeCheckoutOrders{orders: map[uuid.UUID]*domain.Order{d.OrderID: o}})

	_, err := svc.CreateSession(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
