package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycart/checkout-service/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func TestClientQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/checkout/quote", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice@example.com", req["customer_email"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(QuoteResponse{
			CheckoutID:    "m-chk-1",
			TotalCents:    4820,
			SubtotalCents: 4000,
			TaxCents:      320,
			ShippingCents: 500,
			Currency:      "USD",
			ReceiptHash:   "hash-1",
		})
	}))
	defer srv.Close()

	c := NewClient("merchant-a", srv.URL, time.Second)
	quote, err := c.Quote(context.Background(), []QuoteRequestItem{{ProductID: "prod-1", Quantity: 2}}, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "m-chk-1", quote.CheckoutID)
	assert.Equal(t, int64(4820), quote.TotalCents)
}

func TestClientQuoteHTTPErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("merchant-a", srv.URL, time.Second)
	_, err := c.Quote(context.Background(), nil, "")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "HTTP-level failures are final")
}

func TestClientConfirm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/m-chk-1/confirm", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ConfirmResponse{
			MerchantOrderID: "m-order-1",
			Status:          "confirmed",
			TotalCents:      4820,
		})
	}))
	defer srv.Close()

	c := NewClient("merchant-a", srv.URL, time.Second)
	confirm, err := c.Confirm(context.Background(), "m-chk-1", "card", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "m-order-1", confirm.MerchantOrderID)
}

func TestClientConfirmPriceChanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error_code": "PRICE_CHANGED",
			"message":    "price moved",
		})
	}))
	defer srv.Close()

	c := NewClient("merchant-a", srv.URL, time.Second)
	_, err := c.Confirm(context.Background(), "m-chk-1", "card", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPriceChanged))
}

func TestClientConfirmOtherConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error_code": "ALREADY_CONFIRMED",
			"message":    "done",
		})
	}))
	defer srv.Close()

	c := NewClient("merchant-a", srv.URL, time.Second)
	_, err := c.Confirm(context.Background(), "m-chk-1", "card", "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPriceChanged))
}

func TestStaticRegistry(t *testing.T) {
	gw := NewClient("merchant-a", "http://localhost:0", time.Second)
	r := NewStaticRegistry(map[string]Gateway{"merchant-a": gw})

	assert.NotNil(t, r.Gateway("merchant-a"))
	assert.Nil(t, r.Gateway("merchant-b"))
}
