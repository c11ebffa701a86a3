package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() OrderDraft {
	return OrderDraft{
		OrderID:         uuid.New(),
		RestaurantID:    uuid.New(),
		TableSessionID:  "table-12",
		Currency:        "GBP",
		TotalMinorUnits: 1999,
		LineItems: []LineItem{
			{Name: "Margherita", Quantity: 1, UnitMinorUnits: 1299},
			{Name: "Lemonade", Quantity: 2, UnitMinorUnits: 350},
		},
	}
}

func TestOrderDraft_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *OrderDraft)
		wantErr error
	}{
		{name: "valid", mutate: func(d *OrderDraft) {}},
		{name: "zero amount", mutate: func(d *OrderDraft) { d.TotalMinorUnits = 0 }, wantErr: ErrInvalidAmount},
		{name: "negative amount", mutate: func(d *OrderDraft) { d.TotalMinorUnits = -5 }, wantErr: ErrInvalidAmount},
		{name: "bad currency", mutate: func(d *OrderDraft) { d.Currency = "pounds" }, wantErr: ErrInvalidCurrency},
		{name: "missing restaurant", mutate: func(d *OrderDraft) { d.RestaurantID = uuid.Nil }, wantErr: ErrValidation},
		{name: "no line items", mutate: func(d *OrderDraft) { d.LineItems = nil }, wantErr: ErrValidation},
		{name: "unnamed item", mutate: func(d *OrderDraft) { d.LineItems[0].Name = "" }, wantErr: ErrValidation},
		{name: "items do not add up", mutate: func(d *OrderDraft) { d.TotalMinorUnits = 2000 }, wantErr: ErrValidation},
		{name: "line total wraps to match", mutate: func(d *OrderDraft) {
			d.LineItems = append([]LineItem{{Name: "Wagyu", Quantity: 1 << 62, UnitMinorUnits: 4}}, d.LineItems...)
		}, wantErr: ErrInvalidAmount},
		{name: "running sum overflows", mutate: func(d *OrderDraft) {
			d.LineItems = append(d.LineItems,
				LineItem{Name: "Caviar", Quantity: 1, UnitMinorUnits: math.MaxInt64 - 1000},
				LineItem{Name: "Truffle", Quantity: 1, UnitMinorUnits: math.MaxInt64 - 1000},
			)
		}, wantErr: ErrInvalidAmount},
		{name: "free item", mutate: func(d *OrderDraft) {
			d.LineItems = append(d.LineItems, LineItem{Name: "Water", Quantity: 3, UnitMinorUnits: 0})
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			err := d.Validate()
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestOrderDraft_Materialize(t *testing.T) {
	d := validDraft()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	o, err := d.Materialize("cs_test_123", now)
	require.NoError(t, err)

	assert.Equal(t, d.OrderID, o.ID)
	assert.Equal(t, d.RestaurantID, o.RestaurantID)
	assert.Equal(t, PaymentStatusPendingCheckout, o.PaymentStatus)
	require.NotNil(t, o.GatewaySessionID)
	assert.Equal(t, "cs_test_123", *o.GatewaySessionID)
	require.NotNil(t, o.TableSessionID)
	assert.Equal(t, "table-12", *o.TableSessionID)
	assert.Equal(t, int64(1999), o.TotalMinorUnits)
	assert.Nil(t, o.LastAppliedEventID)

	var items []LineItem
	require.NoError(t, json.Unmarshal(o.LineItems, &items))
	assert.Equal(t, d.LineItems, items)
}
