package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tablepay/payments-reconciler/internal/auth"
	"github.com/tablepay/payments-reconciler/internal/logging"
	"github.com/tablepay/payments-reconciler/internal/service"
)

type reconcileRunner interface {
	Reconcile(ctx context.Context, limit, windowHours int) (*service.ReconcileReport, error)
}

type ReconcileHandler struct {
	reconciler         reconcileRunner
	defaultLimit       int
	defaultWindowHours int
}

func NewReconcileHandler(reconciler reconcileRunner, defaultLimit, defaultWindowHours int) *ReconcileHandler {
	return &ReconcileHandler{
		reconciler:         reconciler,
		defaultLimit:       defaultLimit,
		defaultWindowHours: defaultWindowHours,
	}
}

func (h *ReconcileHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var fields []FieldError

	limit, ok := intQuery(r, "limit", h.defaultLimit)
	if !ok {
		fields = append(fields, FieldError{Field: "limit", Message: "must be an integer"})
	}
	window, ok := intQuery(r, "window_hours", h.defaultWindowHours)
	if !ok {
		fields = append(fields, FieldError{Field: "window_hours", Message: "must be an integer"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	ctx := r.Context()
	if operator, ok := auth.OperatorFromContext(ctx); ok {
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("operator", operator, "trigger", "http"))
	}

	report, err := h.reconciler.Reconcile(ctx, limit, window)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, report)
}

func intQuery(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
