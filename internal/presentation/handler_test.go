package presentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycart/checkout-service/internal/application"
	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/logger"
	"github.com/relaycart/checkout-service/internal/merchant"
	"github.com/relaycart/checkout-service/internal/repository"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type stubGateway struct{}

func (stubGateway) Quote(context.Context, []merchant.QuoteRequestItem, string) (*merchant.QuoteResponse, error) {
	return &merchant.QuoteResponse{
		CheckoutID: "m-chk-1",
		Items: []merchant.QuoteItem{
			{ProductID: "prod-1", SKU: "SKU1", Title: "Widget", UnitPriceCents: 2000, Quantity: 2, Currency: "USD"},
		},
		SubtotalCents: 4000,
		TaxCents:      320,
		ShippingCents: 500,
		TotalCents:    4820,
		Currency:      "USD",
		ReceiptHash:   "hash-1",
	}, nil
}

func (stubGateway) Confirm(context.Context, string, string, string) (*merchant.ConfirmResponse, error) {
	return &merchant.ConfirmResponse{
		MerchantOrderID: "m-order-1",
		Status:          "confirmed",
		TotalCents:      4820,
		ConfirmedAt:     time.Now().UTC(),
	}, nil
}

func newTestRouter(t *testing.T) (chi.Router, *application.SignatureVerifier) {
	t.Helper()

	offers := repository.NewMemoryOfferRepo()
	offers.Put(repository.Offer{ID: "offer-1", MerchantID: "merchant-a"})

	registry := merchant.NewStaticRegistry(map[string]merchant.Gateway{"merchant-a": stubGateway{}})
	verifier := application.NewSignatureVerifier(map[string]string{"merchant-a": "topsecret"}, "")

	orderSvc := application.NewOrderService(repository.NewMemoryOrderRepo(), nil)
	checkoutSvc := application.NewCheckoutService(repository.NewMemoryCheckoutRepo(), offers, orderSvc, registry, nil)
	webhookSvc := application.NewWebhookService(repository.NewMemoryEventLog(), checkoutSvc, orderSvc)

	r := chi.NewRouter()
	NewHandler(checkoutSvc, orderSvc, webhookSvc, verifier).Register(r)
	return r, verifier
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCreateCheckoutEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/checkouts", map[string]string{"offer_id": "offer-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var c domain.Checkout
	decode(t, rec, &c)
	assert.Equal(t, domain.CheckoutCreated, c.Status)
	assert.Equal(t, "merchant-a", c.MerchantID)
}

func TestCreateCheckoutValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/checkouts", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/checkouts", map[string]string{"offer_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func fullFlow(t *testing.T, r chi.Router) (checkoutID string, orderID string) {
	t.Helper()

	rec := doJSON(t, r, http.MethodPost, "/checkouts", map[string]string{"offer_id": "offer-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var c domain.Checkout
	decode(t, rec, &c)
	checkoutID = c.ID.String()

	rec = doJSON(t, r, http.MethodPost, "/checkouts/"+checkoutID+"/quote", map[string]any{
		"items":          []map[string]any{{"product_id": "prod-1", "quantity": 2}},
		"customer_email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, "/checkouts/"+checkoutID+"/approval", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, "/checkouts/"+checkoutID+"/approve", map[string]string{"approved_by": "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, "/checkouts/"+checkoutID+"/confirm", map[string]any{
		"payment_method": "card",
		"shipping_address": map[string]string{
			"line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var confirm struct {
		Checkout domain.Checkout `json:"checkout"`
		Order    domain.Order    `json:"order"`
	}
	decode(t, rec, &confirm)
	assert.Equal(t, domain.CheckoutConfirmed, confirm.Checkout.Status)
	assert.Equal(t, domain.OrderPending, confirm.Order.Status)
	return checkoutID, confirm.Order.ID.String()
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)
	fullFlow(t, r)
}

func TestConfirmWithoutApprovalConflicts(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/checkouts", map[string]string{"offer_id": "offer-1"})
	var c domain.Checkout
	decode(t, rec, &c)

	rec = doJSON(t, r, http.MethodPost, "/checkouts/"+c.ID.String()+"/confirm", map[string]any{"payment_method": "card"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var e map[string]string
	decode(t, rec, &e)
	assert.Equal(t, domain.CodeNotApproved, e["error_code"])
}

func TestSimulateAdvanceEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	_, orderID := fullFlow(t, r)

	rec := doJSON(t, r, http.MethodPost, "/orders/"+orderID+"/simulate-advance?steps=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var o domain.Order
	decode(t, rec, &o)
	assert.Equal(t, domain.OrderDelivered, o.Status)
	assert.Equal(t, "SimCarrier", o.Carrier)
}

func TestWebhookSignatureRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	body := []byte(`{"event_id":"evt-1","event_type":"order.shipped","data":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/merchant-a", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookProcessing(t *testing.T) {
	r, verifier := newTestRouter(t)
	_, orderID := fullFlow(t, r)

	// confirm the order first so the shipped transition is legal
	rec := doJSON(t, r, http.MethodPost, "/orders/"+orderID+"/simulate-advance?steps=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := []byte(`{"event_id":"evt-1","event_type":"order.shipped","data":{"merchant_order_id":"m-order-1","tracking_number":"T1","carrier":"UPS"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/merchant-a", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", verifier.Sign("merchant-a", body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result map[string]any
	decode(t, rec, &result)
	assert.Equal(t, string(domain.EventProcessed), result["status"])

	rec = doJSON(t, r, http.MethodGet, "/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var o domain.Order
	decode(t, rec, &o)
	assert.Equal(t, domain.OrderShipped, o.Status)
	assert.Equal(t, "T1", o.TrackingNumber)
}

func TestWebhookDuplicateShortCircuits(t *testing.T) {
	r, verifier := newTestRouter(t)

	send := func() map[string]any {
		body := []byte(fmt.Sprintf(`{"event_id":"evt-dup","event_type":"%s","data":{}}`, domain.EventStockChanged))
		req := httptest.NewRequest(http.MethodPost, "/webhooks/merchant-a", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", verifier.Sign("merchant-a", body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var result map[string]any
		decode(t, rec, &result)
		return result
	}

	first := send()
	assert.Equal(t, string(domain.EventProcessed), first["status"])

	second := send()
	assert.Equal(t, string(domain.EventDuplicate), second["status"])
}

func TestOrderCancelAndRefundEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	_, orderID := fullFlow(t, r)

	rec := doJSON(t, r, http.MethodPost, "/orders/"+orderID+"/cancel", map[string]string{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var o domain.Order
	decode(t, rec, &o)
	assert.Equal(t, domain.OrderCancelled, o.Status)

	rec = doJSON(t, r, http.MethodPost, "/orders/"+orderID+"/refund", map[string]any{"reason": "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code, "cancelled orders cannot refund")
}

func TestListEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	fullFlow(t, r)

	rec := doJSON(t, r, http.MethodGet, "/checkouts?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var checkouts struct {
		Total int `json:"total"`
	}
	decode(t, rec, &checkouts)
	assert.Equal(t, 1, checkouts.Total)

	rec = doJSON(t, r, http.MethodGet, "/orders?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders struct {
		Total int `json:"total"`
	}
	decode(t, rec, &orders)
	assert.Equal(t, 1, orders.Total)
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}
