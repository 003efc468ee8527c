package presentation

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaycart/checkout-service/internal/application"
	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/merchant"
	"github.com/relaycart/checkout-service/internal/presentation/helpers"
	"github.com/relaycart/checkout-service/internal/repository"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	checkouts *application.CheckoutService
	orders    *application.OrderService
	webhooks  *application.WebhookService
	verifier  *application.SignatureVerifier
}

func NewHandler(checkouts *application.CheckoutService, orders *application.OrderService,
	webhooks *application.WebhookService, verifier *application.SignatureVerifier) *Handler {
	return &Handler{checkouts: checkouts, orders: orders, webhooks: webhooks, verifier: verifier}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)

	r.Post("/checkouts", h.CreateCheckout)
	r.Get("/checkouts", h.ListCheckouts)
	r.Get("/checkouts/{id}", h.GetCheckout)
	r.Post("/checkouts/{id}/quote", h.QuoteCheckout)
	r.Post("/checkouts/{id}/approval", h.RequestApproval)
	r.Post("/checkouts/{id}/approve", h.ApproveCheckout)
	r.Post("/checkouts/{id}/confirm", h.ConfirmCheckout)
	r.Post("/checkouts/{id}/cancel", h.CancelCheckout)

	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{id}", h.GetOrder)
	r.Post("/orders/{id}/cancel", h.CancelOrder)
	r.Post("/orders/{id}/refund", h.RefundOrder)
	r.Post("/orders/{id}/simulate-advance", h.SimulateAdvance)

	r.Post("/webhooks/{merchantID}", h.ReceiveWebhook)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid id: "+raw)
		return uuid.Nil, false
	}
	return id, true
}

type createCheckoutRequest struct {
	OfferID        string `json:"offer_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.OfferID) == "" {
		helpers.HttpError(w, http.StatusBadRequest, "offer_id is required")
		return
	}

	res := h.checkouts.Create(r.Context(), req.OfferID, req.IdempotencyKey)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, res.Checkout)
}

func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res := h.checkouts.Get(r.Context(), id)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Checkout)
}

func (h *Handler) ListCheckouts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	res := h.checkouts.List(r.Context(), page, pageSize)
	if !res.Success {
		helpers.HttpError(w, http.StatusInternalServerError, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"checkouts": res.Checkouts,
		"total":     res.Total,
		"page":      res.Page,
		"page_size": res.PageSize,
	})
}

type quoteRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		VariantID string `json:"variant_id,omitempty"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

func (h *Handler) QuoteCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req quoteRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		helpers.HttpError(w, http.StatusBadRequest, "items are required")
		return
	}

	items := make([]merchant.QuoteRequestItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity < 1 {
			helpers.HttpError(w, http.StatusBadRequest, "quantity must be positive")
			return
		}
		items = append(items, merchant.QuoteRequestItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}

	res := h.checkouts.Quote(r.Context(), id, items, req.CustomerEmail)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"checkout":            res.Checkout,
		"reapproval_required": res.ReapprovalRequired,
	})
}

func (h *Handler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res := h.checkouts.RequestApproval(r.Context(), id)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"checkout":       res.Checkout,
		"frozen_receipt": res.Checkout.FrozenReceipt,
	})
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

func (h *Handler) ApproveCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ApprovedBy) == "" {
		helpers.HttpError(w, http.StatusBadRequest, "approved_by is required")
		return
	}

	res := h.checkouts.Approve(r.Context(), id, req.ApprovedBy)
	if !res.Success {
		if res.ReapprovalRequired {
			helpers.WriteJSON(w, http.StatusConflict, map[string]any{
				"error_code":          res.ErrorCode,
				"error":               res.Error,
				"reapproval_required": true,
				"checkout":            res.Checkout,
			})
			return
		}
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Checkout)
}

type confirmRequest struct {
	PaymentMethod   string          `json:"payment_method"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

func (h *Handler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res := h.checkouts.Confirm(r.Context(), id, application.ConfirmParams{
		PaymentMethod:   req.PaymentMethod,
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if !res.Success {
		if res.ReapprovalRequired {
			helpers.WriteJSON(w, http.StatusConflict, map[string]any{
				"error_code":          res.ErrorCode,
				"error":               res.Error,
				"reapproval_required": true,
				"checkout":            res.Checkout,
			})
			return
		}
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"checkout": res.Checkout,
		"order":    res.Order,
	})
}

type cancelRequest struct {
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := helpers.DecodeJSON(r.Body, &req); err != nil {
			helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.CancelledBy == "" {
		req.CancelledBy = "agent"
	}

	res := h.checkouts.Cancel(r.Context(), id, req.Reason, req.CancelledBy)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Checkout)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res := h.orders.Get(r.Context(), id)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	filter := repository.OrderFilter{
		Status:     domain.OrderStatus(r.URL.Query().Get("status")),
		MerchantID: r.URL.Query().Get("merchant_id"),
		Page:       page,
		PageSize:   pageSize,
	}
	res := h.orders.List(r.Context(), filter)
	if !res.Success {
		helpers.HttpError(w, http.StatusInternalServerError, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"orders":    res.Orders,
		"total":     res.Total,
		"page":      res.Page,
		"page_size": res.PageSize,
	})
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := helpers.DecodeJSON(r.Body, &req); err != nil {
			helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.CancelledBy == "" {
		req.CancelledBy = "agent"
	}

	res := h.orders.Cancel(r.Context(), id, req.Reason, req.CancelledBy)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Order)
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if r.ContentLength > 0 {
		if err := helpers.DecodeJSON(r.Body, &req); err != nil {
			helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	res := h.orders.Refund(r.Context(), id, req.AmountCents, req.Reason, "agent")
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Order)
}

func (h *Handler) SimulateAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	steps := 1
	if q := r.URL.Query().Get("steps"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 10 {
			steps = v
		}
	}

	res := h.orders.SimulateAdvance(r.Context(), id, steps)
	if !res.Success {
		helpers.CodeError(w, res.ErrorCode, res.Error)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res.Order)
}

// ReceiveWebhook reads the raw body first so signature verification sees
// the exact bytes the merchant signed. Handler failures still return 200
// with a structured result; only a bad signature gets a 401.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	if strings.TrimSpace(merchantID) == "" {
		helpers.HttpError(w, http.StatusBadRequest, "merchant id is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if !h.verifier.Verify(merchantID, body, signature) {
		helpers.HttpError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	event.MerchantID = merchantID
	event.Signature = signature
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result := h.webhooks.ProcessEvent(r.Context(), event)
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"event_id": result.EventID,
		"status":   result.Status,
		"error":    result.Error,
	})
}

func pagination(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}
	return page, pageSize
}
