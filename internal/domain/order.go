package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Currency string

func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

type PaymentStatus string

const (
	PaymentStatusNone            PaymentStatus = "none"
	PaymentStatusPendingCheckout PaymentStatus = "pending_checkout"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusNone:            {PaymentStatusPendingCheckout},
	PaymentStatusPendingCheckout: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:            {PaymentStatusRefunded},
}

// CanTransitionTo reports whether moving from s to next is a legal step.
// Same-state moves are not transitions; callers treat them as no-ops.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefunded || s == PaymentStatusFailed
}

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusNone, PaymentStatusPendingCheckout, PaymentStatusPaid,
		PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

type LineItem struct {
	Name           string `json:"name"`
	Quantity       int64  `json:"quantity"`
	UnitMinorUnits int64  `json:"unit_minor_units"`
}

type Order struct {
	ID                 uuid.UUID
	RestaurantID       uuid.UUID
	TableSessionID     *string
	PaymentStatus      PaymentStatus
	GatewaySessionID   *string
	GatewayPaymentRef  *string
	LastAppliedEventID *string
	LastAppliedAt      *time.Time
	TotalMinorUnits    int64
	Currency           Currency
	LineItems          json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
