package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/relaycart/checkout-service/internal/logger"
)

// ErrPriceChanged marks the merchant-side conflict "the quoted price is no
// longer valid". It must stay distinguishable from generic merchant
// failures so confirmation can route it into the re-approval flow.
var ErrPriceChanged = errors.New("merchant reported price changed")

type QuoteItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	SKU            string `json:"sku"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Currency       string `json:"currency"`
}

type QuoteRequestItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type QuoteResponse struct {
	CheckoutID    string      `json:"checkout_id"`
	Items         []QuoteItem `json:"items"`
	SubtotalCents int64       `json:"subtotal_cents"`
	TaxCents      int64       `json:"tax_cents"`
	ShippingCents int64       `json:"shipping_cents"`
	TotalCents    int64       `json:"total_cents"`
	Currency      string      `json:"currency"`
	ReceiptHash   string      `json:"receipt_hash"`
}

type ConfirmResponse struct {
	MerchantOrderID string    `json:"merchant_order_id"`
	Status          string    `json:"status"`
	TotalCents      int64     `json:"total_cents"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
}

// Gateway is the synchronous request/response half of the merchant
// contract. The asynchronous half arrives through the webhook pipeline.
type Gateway interface {
	Quote(ctx context.Context, items []QuoteRequestItem, customerEmail string) (*QuoteResponse, error)
	Confirm(ctx context.Context, merchantCheckoutID, paymentMethod, idempotencyKey string) (*ConfirmResponse, error)
}

// Registry resolves merchant ids to gateways. Returns nil for unknown
// merchants.
type Registry interface {
	Gateway(merchantID string) Gateway
}

type StaticRegistry struct {
	gateways map[string]Gateway
}

func NewStaticRegistry(gateways map[string]Gateway) *StaticRegistry {
	return &StaticRegistry{gateways: gateways}
}

func (r *StaticRegistry) Gateway(merchantID string) Gateway {
	return r.gateways[merchantID]
}

type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Client talks to a merchant simulator over HTTP. Transient transport
// errors are retried with fibonacci backoff; HTTP-level rejections are not.
type Client struct {
	merchantID string
	baseURL    string
	http       *http.Client
	maxRetries uint64
}

func NewClient(merchantID, baseURL string, timeout time.Duration) *Client {
	return &Client{
		merchantID: merchantID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

func (c *Client) Quote(ctx context.Context, items []QuoteRequestItem, customerEmail string) (*QuoteResponse, error) {
	payload := map[string]any{"items": items}
	if customerEmail != "" {
		payload["customer_email"] = customerEmail
	}

	var out QuoteResponse
	err := c.postJSON(ctx, "/checkout/quote", payload, func(status int, body []byte) error {
		if status != http.StatusOK && status != http.StatusCreated {
			return fmt.Errorf("merchant %s: quote failed with status %d: %s", c.merchantID, status, body)
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Confirm(ctx context.Context, merchantCheckoutID, paymentMethod, idempotencyKey string) (*ConfirmResponse, error) {
	payload := map[string]any{"payment_method": paymentMethod}
	if idempotencyKey != "" {
		payload["idempotency_key"] = idempotencyKey
	}

	var out ConfirmResponse
	err := c.postJSON(ctx, "/checkout/"+merchantCheckoutID+"/confirm", payload, func(status int, body []byte) error {
		switch {
		case status == http.StatusConflict:
			var ae apiError
			_ = json.Unmarshal(body, &ae)
			if ae.ErrorCode == "PRICE_CHANGED" {
				return fmt.Errorf("merchant %s: %s: %w", c.merchantID, ae.Message, ErrPriceChanged)
			}
			return fmt.Errorf("merchant %s: confirm conflict %s: %s", c.merchantID, ae.ErrorCode, ae.Message)
		case status == http.StatusNotFound:
			return fmt.Errorf("merchant %s: checkout %s not found", c.merchantID, merchantCheckoutID)
		case status != http.StatusOK && status != http.StatusCreated:
			return fmt.Errorf("merchant %s: confirm failed with status %d: %s", c.merchantID, status, body)
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// postJSON sends the request, retrying only transport-level failures.
// handle is called once a response arrives and its error is final.
func (c *Client) postJSON(ctx context.Context, path string, payload any, handle func(status int, body []byte) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(200*time.Millisecond))
	var handleErr error
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			logger.Warn("merchant request failed, will retry",
				"merchant_id", c.merchantID, "path", path, "err", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		handleErr = handle(resp.StatusCode, respBody)
		return nil
	})
	if err != nil {
		return err
	}
	return handleErr
}
