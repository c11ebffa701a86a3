package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type checkoutStarter interface {
	CreateSession(ctx context.Context, draft domain.OrderDraft) (*domain.CheckoutSession, error)
}

type CheckoutHandler struct {
	checkout checkoutStarter
}

func NewCheckoutHandler(checkout checkoutStarter) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type lineItemRequest struct {
	Name           string `json:"name"`
	Quantity       int64  `json:"quantity"`
	UnitMinorUnits int64  `json:"unit_minor_units"`
}

type createSessionRequest struct {
	OrderID         string            `json:"order_id"`
	RestaurantID    string            `json:"restaurant_id"`
	TableSessionID  string            `json:"table_session_id"`
	Currency        string            `json:"currency"`
	TotalMinorUnits int64             `json:"total_minor_units"`
	LineItems       []lineItemRequest `json:"line_items"`
}

func (req createSessionRequest) validate() []FieldError {
	var errs []FieldError

	if req.OrderID != "" {
		if _, err := uuid.Parse(req.OrderID); err != nil {
			errs = append(errs, FieldError{Field: "order_id", Message: "must be a valid UUID"})
		}
	}
	if req.RestaurantID == "" {
		errs = append(errs, FieldError{Field: "restaurant_id", Message: "required"})
	} else if _, err := uuid.Parse(req.RestaurantID); err != nil {
		errs = append(errs, FieldError{Field: "restaurant_id", Message: "must be a valid UUID"})
	}
	if req.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	}
	if req.TotalMinorUnits <= 0 {
		errs = append(errs, FieldError{Field: "total_minor_units", Message: "must be greater than zero"})
	}
	if len(req.LineItems) == 0 {
		errs = append(errs, FieldError{Field: "line_items", Message: "at least one line item required"})
	}

	return errs
}

func (req createSessionRequest) draft() domain.OrderDraft {
	d := domain.OrderDraft{
		RestaurantID:    uuid.MustParse(req.RestaurantID),
		TableSessionID:  req.TableSessionID,
		Currency:        domain.Currency(strings.ToUpper(req.Currency)),
		TotalMinorUnits: req.TotalMinorUnits,
	}
	if req.OrderID != "" {
		d.OrderID = uuid.MustParse(req.OrderID)
	}
	for _, li := range req.LineItems {
		d.LineItems = append(d.LineItems, domain.LineItem{
			Name:           li.Name,
			Quantity:       li.Quantity,
			UnitMinorUnits: li.UnitMinorUnits,
		})
	}
	return d
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	OrderID     string `json:"order_id"`
}

func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	sess, err := h.checkout.CreateSession(r.Context(), req.draft())
	if err != nil {
		if errors.Is(err, domain.ErrGateway) {
			logging.FromContext(r.Context()).Warn("checkout could not be started", "error", err)
			RespondAppError(w, ErrCheckoutFailed, nil)
			return
		}
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, createSessionResponse{
		SessionID:   sess.SessionID,
		RedirectURL: sess.RedirectURL,
		OrderID:     sess.OrderID.String(),
	})
}
