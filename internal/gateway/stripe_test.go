package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

func newServerClient(t *testing.T, h http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripeClient(Config{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://example.test/success",
		CancelURL:  "https://example.test/cancel",
		APIURL:     srv.URL,
	})
}

func TestCreateSession(t *testing.T) {
	d := testDraft(2)

	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "gbp", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "650", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, d.OrderID.String(), r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, d.OrderID.String(), r.PostForm.Get("payment_intent_data[metadata][order_id]"))
		assert.NotEmpty(t, r.PostForm.Get("metadata[draft_0]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`)
	})

	sess, err := c.CreateSession(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", sess.RedirectURL)
	assert.Equal(t, d.OrderID, sess.OrderID)
}

func TestCreateSession_GatewayError(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"bad currency"}}`)
	})

	_, err := c.CreateSession(context.Background(), testDraft(1))
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestListEvents_SortedAndNormalized(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("created[gte]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","url":"/v1/events","has_more":false,"data":[
			{"id":"evt_b","object":"event","created":1700000100,"type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1"}}},
			{"id":"evt_c","object":"event","created":1700000000,"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}},
			{"id":"evt_a","object":"event","created":1700000000,"type":"payment_intent.succeeded","data":{"object":{"id":"pi_2"}}}
		]}`)
	})

	now := time.Unix(1700000200, 0)
	events, err := c.ListEvents(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt_a", events[0].EventID)
	assert.Equal(t, "evt_c", events[1].EventID)
	assert.Equal(t, "evt_b", events[2].EventID)
	assert.Equal(t, domain.GatewayEventRefundIssued, events[2].Type)
}

func TestListEvents_GatewayError(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"type":"api_error","message":"boom"}}`)
	})

	_, err := c.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, domain.ErrGateway)
}
