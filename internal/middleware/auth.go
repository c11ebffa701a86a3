package middleware

import (
	"net/http"
	"strings"

	"github.com/tablepay/payments-reconciler/internal/auth"
	"github.com/tablepay/payments-reconciler/internal/handler"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

// RequireOperator admits requests carrying an operator token signed with the
// pre-shared secret and puts the operator identity in the context.
func RequireOperator(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateOperatorToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Warn("operator token rejected", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithOperator(r.Context(), claims.OperatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
