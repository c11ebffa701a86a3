package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// OrderDraft is the full intent of an order that does not exist locally yet.
// It travels inside the gateway session metadata until the first successful
// event promotes it into an Order.
type OrderDraft struct {
	OrderID         uuid.UUID  `json:"order_id"`
	PreviousOrderID *uuid.UUID `json:"previous_order_id,omitempty"`
	RestaurantID    uuid.UUID  `json:"restaurant_id"`
	TableSessionID  string     `json:"table_session_id,omitempty"`
	Currency        Currency   `json:"currency"`
	TotalMinorUnits int64      `json:"total_minor_units"`
	LineItems       []LineItem `json:"line_items"`
}

func (d *OrderDraft) Validate() error {
	if d.TotalMinorUnits <= 0 {
		return fmt.Errorf("Validate: %w: %w", ErrValidation, ErrInvalidAmount)
	}
	if !d.Currency.IsValid() {
		return fmt.Errorf("Validate: %w: %w", ErrValidation, ErrInvalidCurrency)
	}
	if d.RestaurantID == uuid.Nil {
		return fmt.Errorf("Validate: restaurant_id required: %w", ErrValidation)
	}
	if len(d.LineItems) == 0 {
		return fmt.Errorf("Validate: at least one line item required: %w", ErrValidation)
	}

	var sum int64
	for i, li := range d.LineItems {
		if li.Name == "" {
			return fmt.Errorf("Validate: line_items[%d].name required: %w", i, ErrValidation)
		}
		if li.Quantity <= 0 || li.UnitMinorUnits < 0 {
			return fmt.Errorf("Validate: line_items[%d] quantity and price must be positive: %w", i, ErrValidation)
		}
		if li.UnitMinorUnits > 0 && li.Quantity > (math.MaxInt64-sum)/li.UnitMinorUnits {
			return fmt.Errorf("Validate: line_items[%d] total overflows: %w: %w", i, ErrValidation, ErrInvalidAmount)
		}
		sum += li.Quantity * li.UnitMinorUnits
	}
	if sum != d.TotalMinorUnits {
		return fmt.Errorf("Validate: line items total %d != %d: %w", sum, d.TotalMinorUnits, ErrValidation)
	}
	return nil
}

// Materialize promotes the draft into an order row in pending_checkout, the
// state every checkout cycle starts from.
func (d *OrderDraft) Materialize(sessionID string, now time.Time) (*Order, error) {
	items, err := json.Marshal(d.LineItems)
	if err != nil {
		return nil, fmt.Errorf("Materialize: %w", err)
	}

	o := &Order{
		ID:               d.OrderID,
		RestaurantID:     d.RestaurantID,
		PaymentStatus:    PaymentStatusPendingCheckout,
		GatewaySessionID: &sessionID,
		TotalMinorUnits:  d.TotalMinorUnits,
		Currency:         d.Currency,
		LineItems:        items,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d.TableSessionID != "" {
		ts := d.TableSessionID
		o.TableSessionID = &ts
	}
	return o, nil
}

// CheckoutIntent is a draft bound to the gateway session that carries it.
type CheckoutIntent struct {
	SessionID string
	Draft     OrderDraft
	CreatedAt time.Time
}

type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	OrderID     uuid.UUID
}
