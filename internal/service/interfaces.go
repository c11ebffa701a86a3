package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type ledgerRepository interface {
	Get(ctx context.Context, eventID string) (*domain.GatewayEvent, error)
	Insert(ctx context.Context, event *domain.GatewayEvent) (bool, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, eventID string) (*domain.GatewayEvent, error)
	MarkApplied(ctx context.Context, tx *sql.Tx, eventID string, orderID uuid.UUID, appliedAt time.Time) error
	MarkSkipped(ctx context.Context, tx *sql.Tx, eventID string, orderID *uuid.UUID, reason string) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
	ListSkipped(ctx context.Context, orderID uuid.UUID, sessionID, paymentRef *string, limit int) ([]domain.GatewayEvent, error)
}

type orderRepository interface {
	CreateIfAbsent(ctx context.Context, tx *sql.Tx, order *domain.Order) (bool, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	GetBySessionForUpdate(ctx context.Context, tx *sql.Tx, sessionID string) (*domain.Order, error)
	GetByPaymentRefForUpdate(ctx context.Context, tx *sql.Tx, paymentRef string) (*domain.Order, error)
	ApplyTransition(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, eventID string, paymentRef *string, at time.Time) error
	Touch(ctx context.Context, tx *sql.Tx, id uuid.UUID, eventID string, paymentRef *string, at time.Time) error
}

type transitionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.OrderTransition) error
}

// Gateway is the slice of the payment gateway the services depend on.
type Gateway interface {
	CreateSession(ctx context.Context, draft domain.OrderDraft) (*domain.CheckoutSession, error)
	ListEvents(ctx context.Context, since, until time.Time) ([]domain.GatewayEvent, error)
}

// EventApplier applies one gateway event to its order.
type EventApplier interface {
	ApplyWithRetry(ctx context.Context, event *domain.GatewayEvent) (*ApplyResult, error)
}
