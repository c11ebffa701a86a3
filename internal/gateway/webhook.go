package gateway

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

const SignatureHeader = "Stripe-Signature"

// ParseWebhook verifies the signature over the raw body and normalizes the
// event. A bad or missing signature is ErrAuthentication; a well-signed body
// that cannot be decoded is ErrValidation.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (*domain.GatewayEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("ParseWebhook: %w: %w", domain.ErrAuthentication, err)
		}
		return nil, fmt.Errorf("ParseWebhook: %w: %w", domain.ErrValidation, err)
	}

	out, err := Normalize(&ev, c.now())
	if err != nil {
		return nil, fmt.Errorf("ParseWebhook: %w", err)
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
