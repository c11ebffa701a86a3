package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

type orderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type transitionReader interface {
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error)
}

type OrderHandler struct {
	orders      orderReader
	transitions transitionReader
}

func NewOrderHandler(orders orderReader, transitions transitionReader) *OrderHandler {
	return &OrderHandler{orders: orders, transitions: transitions}
}

type transitionResponse struct {
	EventID    string    `json:"event_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	CreatedAt  time.Time `json:"created_at"`
}

type orderResponse struct {
	ID                 uuid.UUID            `json:"id"`
	RestaurantID       uuid.UUID            `json:"restaurant_id"`
	TableSessionID     *string              `json:"table_session_id"`
	PaymentStatus      string               `json:"payment_status"`
	GatewaySessionID   *string              `json:"gateway_session_id"`
	GatewayPaymentRef  *string              `json:"gateway_payment_ref"`
	LastAppliedEventID *string              `json:"last_applied_event_id"`
	LastAppliedAt      *time.Time           `json:"last_applied_at"`
	TotalMinorUnits    int64                `json:"total_minor_units"`
	Currency           string               `json:"currency"`
	LineItems          json.RawMessage      `json:"line_items"`
	Transitions        []transitionResponse `json:"transitions"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func toOrderResponse(o *domain.Order, ts []domain.OrderTransition) orderResponse {
	out := orderResponse{
		ID:                 o.ID,
		RestaurantID:       o.RestaurantID,
		TableSessionID:     o.TableSessionID,
		PaymentStatus:      string(o.PaymentStatus),
		GatewaySessionID:   o.GatewaySessionID,
		GatewayPaymentRef:  o.GatewayPaymentRef,
		LastAppliedEventID: o.LastAppliedEventID,
		LastAppliedAt:      o.LastAppliedAt,
		TotalMinorUnits:    o.TotalMinorUnits,
		Currency:           string(o.Currency),
		LineItems:          o.LineItems,
		Transitions:        make([]transitionResponse, 0, len(ts)),
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	for _, t := range ts {
		out.Transitions = append(out.Transitions, transitionResponse{
			EventID:    t.EventID,
			FromStatus: string(t.FromStatus),
			ToStatus:   string(t.ToStatus),
			CreatedAt:  t.CreatedAt,
		})
	}
	return out
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	ts, err := h.transitions.ListByOrderID(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOrderResponse(order, ts))
}
