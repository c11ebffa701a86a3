package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/gateway"
	"github.com/tablepay/payments-reconciler/internal/handler"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type webhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (*domain.GatewayEvent, error)
}

// VerifyWebhook checks the gateway signature over the raw body before
// anything downstream sees the request. Unsigned or tampered payloads get a
// 401 and never reach the ledger.
func VerifyWebhook(verifier webhookVerifier, maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logging.FromContext(r.Context())

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
			if err != nil {
				log.Warn("failed to read webhook body", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			if int64(len(body)) > maxBody {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			event, err := verifier.ParseWebhook(body, r.Header.Get(gateway.SignatureHeader))
			if err != nil {
				if errors.Is(err, domain.ErrAuthentication) {
					log.Warn("webhook signature verification failed", "error", err)
					handler.RespondAppError(w, handler.ErrInvalidSignature, nil)
					return
				}
				log.Warn("failed to parse webhook payload", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}

			ctx := gateway.WithVerifiedEvent(r.Context(), event)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
