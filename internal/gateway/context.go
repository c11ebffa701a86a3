package gateway

import (
	"context"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

type verifiedEventKey struct{}

// WithVerifiedEvent stores an event whose signature has been checked.
func WithVerifiedEvent(ctx context.Context, ev *domain.GatewayEvent) context.Context {
	return context.WithValue(ctx, verifiedEventKey{}, ev)
}

func VerifiedEventFromContext(ctx context.Context) (*domain.GatewayEvent, bool) {
	ev, ok := ctx.Value(verifiedEventKey{}).(*domain.GatewayEvent)
	return ev, ok && ev != nil
}
