package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"

	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

// historyTypes are the Stripe event types the reconciler asks for. Anything
// else normalizes to unsupported anyway.
var historyTypes = []string{
	"checkout.session.completed",
	"checkout.session.async_payment_succeeded",
	"checkout.session.async_payment_failed",
	"checkout.session.expired",
	"payment_intent.succeeded",
	"payment_intent.payment_failed",
	"charge.refunded",
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// APIURL overrides the Stripe API base URL. Empty means Stripe itself.
	APIURL string
	// Tolerance is how old a webhook signature timestamp may be.
	Tolerance time.Duration
}

// StripeClient is the Stripe implementation of the payment gateway: hosted
// checkout sessions, event history and webhook verification.
type StripeClient struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	tolerance     time.Duration
	now           func() time.Time
}

func NewStripeClient(cfg Config) *StripeClient {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(cfg.APIURL),
				MaxNetworkRetries: stripe.Int64(0),
				LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
			}),
		}
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)

	return &StripeClient{
		api:           sc,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		tolerance:     tolerance,
		now:           time.Now,
	}
}

// CreateSession opens a hosted checkout session carrying the draft in its
// metadata and in the metadata of the payment intent it spawns.
func (c *StripeClient) CreateSession(ctx context.Context, draft domain.OrderDraft) (*domain.CheckoutSession, error) {
	log := logging.FromContext(ctx)

	md, err := EncodeDraft(draft)
	if err != nil {
		return nil, fmt.Errorf("CreateSession: %w", err)
	}

	currency := strings.ToLower(string(draft.Currency))
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(draft.OrderID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: md,
		},
	}
	params.Context = ctx
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	for _, li := range draft.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(li.UnitMinorUnits),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			},
		})
	}

	start := time.Now()
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("CreateSession: %w: %w", domain.ErrGateway, err)
	}

	log.Info("checkout session created",
		"session_id", sess.ID,
		"order_id", draft.OrderID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &domain.CheckoutSession{
		SessionID:   sess.ID,
		RedirectURL: sess.URL,
		OrderID:     draft.OrderID,
	}, nil
}

// ListEvents returns the gateway's events created in [since, until], oldest
// first. Ties on time are broken by event id so the order is total.
func (c *StripeClient) ListEvents(ctx context.Context, since, until time.Time) ([]domain.GatewayEvent, error) {
	params := &stripe.EventListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: since.Unix(),
			LesserThanOrEqual:  until.Unix(),
		},
		Types: stripe.StringSlice(historyTypes),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	receivedAt := c.now()
	var events []domain.GatewayEvent
	it := c.api.Events.List(params)
	for it.Next() {
		ev, err := Normalize(it.Event(), receivedAt)
		if err != nil {
			logging.FromContext(ctx).Warn("skipping undecodable gateway event", "error", err)
			continue
		}
		events = append(events, *ev)
	}
	if err := it.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ListEvents: %w", err)
		}
		return nil, fmt.Errorf("ListEvents: %w: %w", domain.ErrGateway, err)
	}

	domain.SortEvents(events)
	return events, nil
}
