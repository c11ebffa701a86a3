package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderTransition is one row of the append-only audit trail written
// alongside every applied payment status change.
type OrderTransition struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	EventID    string
	FromStatus PaymentStatus
	ToStatus   PaymentStatus
	CreatedAt  time.Time
}
