package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/logger"
	"github.com/relaycart/checkout-service/internal/repository"
)

const signaturePrefix = "sha256="

// SignatureVerifier checks merchant webhook signatures. Secrets are
// per-merchant with an optional fallback for merchants without one.
type SignatureVerifier struct {
	secrets       map[string]string
	defaultSecret string
}

func NewSignatureVerifier(secrets map[string]string, defaultSecret string) *SignatureVerifier {
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &SignatureVerifier{secrets: secrets, defaultSecret: defaultSecret}
}

func (v *SignatureVerifier) secretFor(merchantID string) string {
	if s, ok := v.secrets[merchantID]; ok && s != "" {
		return s
	}
	return v.defaultSecret
}

// Verify checks an HMAC-SHA256 signature header of the form
// "sha256=<hex>" against the raw request body. Comparison is
// constant-time.
func (v *SignatureVerifier) Verify(merchantID string, body []byte, header string) bool {
	secret := v.secretFor(merchantID)
	if secret == "" {
		return false
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign produces the signature header value for a body. Test and
// simulator helper.
func (v *SignatureVerifier) Sign(merchantID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(v.secretFor(merchantID)))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

type WebhookResult struct {
	EventID   string
	Status    domain.EventStatus
	Success   bool
	Error     string
	Duplicate bool
}

// WebhookService turns merchant event deliveries into state changes.
// Every event is logged before processing; a (merchant id, event id)
// pair is processed at most once regardless of payload, and handlers are
// idempotent on top of that so replays that slip past the log are
// harmless.
type WebhookService struct {
	events    repository.EventLog
	checkouts *CheckoutService
	orders    *OrderService
}

func NewWebhookService(events repository.EventLog, checkouts *CheckoutService, orders *OrderService) *WebhookService {
	return &WebhookService{events: events, checkouts: checkouts, orders: orders}
}

// ProcessEvent runs the intake pipeline: record, dedup, dispatch, mark.
// It never returns a transport-level error for a handler failure; the
// failure lands in the event log and the result.
func (s *WebhookService) ProcessEvent(ctx context.Context, event domain.WebhookEvent) WebhookResult {
	if event.EventID == "" || event.MerchantID == "" {
		return WebhookResult{Status: domain.EventFailed, Error: "event_id and merchant_id are required"}
	}

	payload := event.Data
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	rec := &domain.EventRecord{
		EventID:       event.EventID,
		MerchantID:    event.MerchantID,
		EventType:     event.EventType,
		Payload:       payload,
		PayloadHash:   event.PayloadHash(),
		Status:        domain.EventReceived,
		CorrelationID: uuid.NewString(),
		ReceivedAt:    nowUTC(),
	}

	inserted, err := s.events.Insert(ctx, rec)
	if err != nil {
		logger.Error("failed to record webhook event",
			"merchant_id", event.MerchantID, "event_id", event.EventID, "err", err)
		return WebhookResult{EventID: event.EventID, Status: domain.EventFailed, Error: err.Error()}
	}
	if !inserted {
		logger.Info("duplicate webhook delivery ignored",
			"merchant_id", event.MerchantID, "event_id", event.EventID)
		return WebhookResult{EventID: event.EventID, Status: domain.EventDuplicate, Success: true, Duplicate: true}
	}

	if err := s.events.UpdateStatus(ctx, event.MerchantID, event.EventID, domain.EventProcessing, ""); err != nil {
		logger.Warn("failed to mark event processing",
			"merchant_id", event.MerchantID, "event_id", event.EventID, "err", err)
	}

	if herr := s.dispatch(ctx, event); herr != nil {
		logger.Warn("webhook event handling failed",
			"merchant_id", event.MerchantID, "event_id", event.EventID,
			"event_type", event.EventType, "err", herr)
		if uerr := s.events.UpdateStatus(ctx, event.MerchantID, event.EventID, domain.EventFailed, herr.Error()); uerr != nil {
			logger.Error("failed to mark event failed",
				"merchant_id", event.MerchantID, "event_id", event.EventID, "err", uerr)
		}
		return WebhookResult{EventID: event.EventID, Status: domain.EventFailed, Error: herr.Error()}
	}

	if err := s.events.UpdateStatus(ctx, event.MerchantID, event.EventID, domain.EventProcessed, ""); err != nil {
		logger.Error("failed to mark event processed",
			"merchant_id", event.MerchantID, "event_id", event.EventID, "err", err)
	}

	logger.Info("webhook event processed",
		"merchant_id", event.MerchantID, "event_id", event.EventID, "event_type", event.EventType)
	return WebhookResult{EventID: event.EventID, Status: domain.EventProcessed, Success: true}
}

func (s *WebhookService) dispatch(ctx context.Context, event domain.WebhookEvent) error {
	if !event.EventType.IsKnown() {
		// Unknown types are logged and acknowledged, never failed; the
		// merchant would only retry them forever.
		logger.Warn("unknown webhook event type acknowledged",
			"merchant_id", event.MerchantID, "event_type", event.EventType)
		return nil
	}

	switch event.EventType {
	case domain.EventOrderConfirmed:
		return s.handleOrderTransition(ctx, event, domain.OrderConfirmed)
	case domain.EventOrderShipped:
		return s.handleOrderShipped(ctx, event)
	case domain.EventOrderDelivered:
		return s.handleOrderTransition(ctx, event, domain.OrderDelivered)
	case domain.EventOrderCancelled:
		return s.handleOrderCancelled(ctx, event)
	case domain.EventOrderRefunded:
		return s.handleOrderRefunded(ctx, event)
	case domain.EventCheckoutFailed:
		return s.handleCheckoutFailed(ctx, event)
	case domain.EventPriceChanged:
		return s.handlePriceChanged(ctx, event)
	default:
		// Informational types (checkout.*, order.created, stock.changed)
		// carry no state change for us.
		logger.Debug("informational webhook event",
			"merchant_id", event.MerchantID, "event_type", event.EventType)
		return nil
	}
}

type orderEventData struct {
	MerchantOrderID   string `json:"merchant_order_id"`
	OrderID           string `json:"order_id,omitempty"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
	Carrier           string `json:"carrier,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RefundAmountCents int64  `json:"refund_amount_cents,omitempty"`
}

func (s *WebhookService) resolveOrder(ctx context.Context, merchantID string, data orderEventData) (*domain.Order, error) {
	if data.OrderID != "" {
		if id, err := uuid.Parse(data.OrderID); err == nil {
			res := s.orders.Get(ctx, id)
			if res.Success {
				return res.Order, nil
			}
		}
	}
	if data.MerchantOrderID == "" {
		return nil, fmt.Errorf("event carries no order reference")
	}
	res := s.orders.GetByMerchantOrderID(ctx, merchantID, data.MerchantOrderID)
	if !res.Success {
		return nil, fmt.Errorf("order not found for merchant order %s", data.MerchantOrderID)
	}
	return res.Order, nil
}

func parseOrderData(event domain.WebhookEvent) (orderEventData, error) {
	var data orderEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return data, fmt.Errorf("invalid event data: %w", err)
	}
	return data, nil
}

// handleOrderTransition covers the simple target-status events. An order
// already at the target is a no-op success so redelivered events with
// fresh event ids stay harmless.
func (s *WebhookService) handleOrderTransition(ctx context.Context, event domain.WebhookEvent, target domain.OrderStatus) error {
	data, err := parseOrderData(event)
	if err != nil {
		return err
	}
	order, err := s.resolveOrder(ctx, event.MerchantID, data)
	if err != nil {
		return err
	}
	if order.Status == target {
		return nil
	}

	var res OrderResult
	switch target {
	case domain.OrderConfirmed:
		res = s.orders.Confirm(ctx, order.ID, data.MerchantOrderID, "merchant")
	case domain.OrderDelivered:
		res = s.orders.Deliver(ctx, order.ID, "merchant")
	default:
		return fmt.Errorf("unsupported order transition target: %s", target)
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return nil
}

func (s *WebhookService) handleOrderShipped(ctx context.Context, event domain.WebhookEvent) error {
	data, err := parseOrderData(event)
	if err != nil {
		return err
	}
	order, err := s.resolveOrder(ctx, event.MerchantID, data)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderShipped {
		return nil
	}
	res := s.orders.Ship(ctx, order.ID, data.TrackingNumber, data.Carrier, "merchant")
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return nil
}

func (s *WebhookService) handleOrderCancelled(ctx context.Context, event domain.WebhookEvent) error {
	data, err := parseOrderData(event)
	if err != nil {
		return err
	}
	order, err := s.resolveOrder(ctx, event.MerchantID, data)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderCancelled {
		return nil
	}
	reason := data.Reason
	if reason == "" {
		reason = "cancelled by merchant"
	}
	res := s.orders.Cancel(ctx, order.ID, reason, "merchant")
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return nil
}

func (s *WebhookService) handleOrderRefunded(ctx context.Context, event domain.WebhookEvent) error {
	data, err := parseOrderData(event)
	if err != nil {
		return err
	}
	order, err := s.resolveOrder(ctx, event.MerchantID, data)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderRefunded {
		return nil
	}
	res := s.orders.Refund(ctx, order.ID, data.RefundAmountCents, data.Reason, "merchant")
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return nil
}

type checkoutEventData struct {
	CheckoutID    string `json:"checkout_id"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	NewTotalCents int64  `json:"new_total_cents,omitempty"`
}

func parseCheckoutData(event domain.WebhookEvent) (uuid.UUID, checkoutEventData, error) {
	var data checkoutEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return uuid.Nil, data, fmt.Errorf("invalid event data: %w", err)
	}
	id, err := uuid.Parse(data.CheckoutID)
	if err != nil {
		return uuid.Nil, data, fmt.Errorf("invalid checkout_id: %q", data.CheckoutID)
	}
	return id, data, nil
}

func (s *WebhookService) handleCheckoutFailed(ctx context.Context, event domain.WebhookEvent) error {
	id, data, err := parseCheckoutData(event)
	if err != nil {
		return err
	}
	code := data.ErrorCode
	if code == "" {
		code = domain.CodeMerchantError
	}
	res := s.checkouts.MarkFailed(ctx, id, code, data.ErrorMessage)
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return nil
}

func (s *WebhookService) handlePriceChanged(ctx context.Context, event domain.WebhookEvent) error {
	id, data, err := parseCheckoutData(event)
	if err != nil {
		return err
	}
	res := s.checkouts.HandlePriceChanged(ctx, id, data.NewTotalCents)
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return nil
}
