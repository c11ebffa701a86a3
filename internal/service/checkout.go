package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type checkoutOrders interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	AttachSession(ctx context.Context, id uuid.UUID, sessionID string) error
}

// CheckoutService starts hosted checkouts. It writes nothing locally for a
// new order: the draft rides along in the gateway session until a completed
// checkout materializes it.
type CheckoutService struct {
	gateway Gateway
	orders  checkoutOrders
}

func NewCheckoutService(gateway Gateway, orders checkoutOrders) *CheckoutService {
	return &CheckoutService{gateway: gateway, orders: orders}
}

func (s *CheckoutService) CreateSession(ctx context.Context, draft domain.OrderDraft) (*domain.CheckoutSession, error) {
	log := logging.FromContext(ctx)

	if draft.OrderID == uuid.Nil {
		draft.OrderID = uuid.New()
	}
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("CreateSession: %w", err)
	}

	eager := false
	existing, err := s.orders.GetByID(ctx, draft.OrderID)
	switch {
	case err == nil:
		if existing.RestaurantID != draft.RestaurantID {
			return nil, fmt.Errorf("CreateSession: order belongs to another restaurant: %w", domain.ErrValidation)
		}
		switch existing.PaymentStatus {
		case domain.PaymentStatusNone, domain.PaymentStatusPendingCheckout:
			if existing.TotalMinorUnits != draft.TotalMinorUnits || existing.Currency != draft.Currency {
				return nil, fmt.Errorf("CreateSession: amount does not match order: %w", domain.ErrValidation)
			}
			eager = true
		case domain.PaymentStatusFailed:
			// a failed order stays failed; the retry is a new order
			prev := existing.ID
			draft.OrderID = uuid.New()
			draft.PreviousOrderID = &prev
		default:
			return nil, fmt.Errorf("CreateSession: order is %s: %w", existing.PaymentStatus, domain.ErrValidation)
		}
	case errors.Is(err, domain.ErrOrderNotFound):
	default:
		return nil, fmt.Errorf("CreateSession: %w", err)
	}

	sess, err := s.gateway.CreateSession(ctx, draft)
	if err != nil {
		log.Error("checkout session creation failed", "order_id", draft.OrderID, "error", err)
		return nil, fmt.Errorf("CreateSession: %w", err)
	}

	if eager {
		if err := s.orders.AttachSession(ctx, draft.OrderID, sess.SessionID); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				return nil, fmt.Errorf("CreateSession: order paid while starting checkout: %w", domain.ErrValidation)
			}
			return nil, fmt.Errorf("CreateSession: %w", err)
		}
	}

	log.Info("checkout started",
		"order_id", draft.OrderID,
		"session_id", sess.SessionID,
		"eager", eager,
		"restaurant_id", draft.RestaurantID,
	)
	return sess, nil
}
