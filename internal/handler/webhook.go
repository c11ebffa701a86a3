package handler

import (
	"context"
	"net/http"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/gateway"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type webhookLedger interface {
	Insert(ctx context.Context, event *domain.GatewayEvent) (bool, error)
}

type eventDispatcher interface {
	Enqueue(ev domain.GatewayEvent) bool
}

// WebhookHandler acknowledges verified gateway events as soon as they are in
// the ledger. Application happens afterwards on the dispatcher.
type WebhookHandler struct {
	ledger     webhookLedger
	dispatcher eventDispatcher
}

func NewWebhookHandler(ledger webhookLedger, dispatcher eventDispatcher) *WebhookHandler {
	return &WebhookHandler{ledger: ledger, dispatcher: dispatcher}
}

func (h *WebhookHandler) ReceiveGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	event, ok := gateway.VerifiedEventFromContext(r.Context())
	if !ok {
		log.Error("webhook reached handler without a verified event")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	inserted, err := h.ledger.Insert(r.Context(), event)
	if err != nil {
		log.Error("failed to store gateway event", "event_id", event.EventID, "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	if !inserted {
		log.Info("duplicate gateway event received", "event_id", event.EventID, "event_type", event.Type)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
		return
	}

	log.Info("gateway event stored",
		"event_id", event.EventID,
		"event_type", event.Type,
		"routing_key", event.RoutingKey(),
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})

	if !h.dispatcher.Enqueue(*event) {
		log.Warn("gateway event not dispatched, left for sweep", "event_id", event.EventID)
	}
}
