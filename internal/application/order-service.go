package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/logger"
	"github.com/relaycart/checkout-service/internal/repository"
)

// EventPublisher pushes domain state changes to the outbound events topic.
// Publish failures never fail the domain operation.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

type OrderResult struct {
	Order     *domain.Order
	Success   bool
	Error     string
	ErrorCode string
}

func orderFailure(code, msg string) OrderResult {
	return OrderResult{Success: false, Error: msg, ErrorCode: code}
}

type ListOrdersResult struct {
	Orders   []*domain.Order
	Total    int
	Page     int
	PageSize int
	Success  bool
	Error    string
}

type CreateOrderParams struct {
	CheckoutID      uuid.UUID
	MerchantID      string
	MerchantOrderID string
	Customer        domain.Customer
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	Items           []domain.OrderItem
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	Currency        string
}

// OrderService owns the order lifecycle. Every transition funnels through
// one primitive that validates against the freshly loaded state.
type OrderService struct {
	repo      repository.OrderRepo
	publisher EventPublisher
}

func NewOrderService(repo repository.OrderRepo, publisher EventPublisher) *OrderService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &OrderService{repo: repo, publisher: publisher}
}

// CreateFromCheckout creates the order for a confirmed checkout. Idempotent
// by checkout id: a second call returns the existing order.
func (s *OrderService) CreateFromCheckout(ctx context.Context, p CreateOrderParams) OrderResult {
	existing, err := s.repo.GetByCheckoutID(ctx, p.CheckoutID)
	if err != nil {
		return orderFailure(domain.CodeCreateFailed, err.Error())
	}
	if existing != nil {
		logger.Info("order already exists for checkout",
			"checkout_id", p.CheckoutID, "order_id", existing.ID)
		return OrderResult{Order: existing, Success: true}
	}

	order := domain.NewOrder(p.CheckoutID, p.MerchantID, p.MerchantOrderID,
		p.Customer, p.ShippingAddress, p.BillingAddress, p.Items,
		p.SubtotalCents, p.TaxCents, p.ShippingCents, p.TotalCents, p.Currency)

	if err := s.repo.Save(ctx, order); err != nil {
		// Lost a creation race; the winner's order is the answer.
		if errors.Is(err, repository.ErrOrderAlreadyExists) {
			if winner, gerr := s.repo.GetByCheckoutID(ctx, p.CheckoutID); gerr == nil && winner != nil {
				return OrderResult{Order: winner, Success: true}
			}
		}
		logger.Error("failed to save order", "checkout_id", p.CheckoutID, "err", err)
		return orderFailure(domain.CodeCreateFailed, err.Error())
	}

	logger.Info("order created",
		"order_id", order.ID, "checkout_id", p.CheckoutID,
		"merchant_order_id", p.MerchantOrderID, "total_cents", p.TotalCents)

	s.publish(ctx, order, "order.created")
	return OrderResult{Order: order, Success: true}
}

func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID) OrderResult {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return orderFailure(domain.CodeOrderNotFound, err.Error())
	}
	if order == nil {
		return orderFailure(domain.CodeOrderNotFound, fmt.Sprintf("order not found: %s", orderID))
	}
	return OrderResult{Order: order, Success: true}
}

func (s *OrderService) GetByMerchantOrderID(ctx context.Context, merchantID, merchantOrderID string) OrderResult {
	order, err := s.repo.GetByMerchantOrderID(ctx, merchantID, merchantOrderID)
	if err != nil {
		return orderFailure(domain.CodeOrderNotFound, err.Error())
	}
	if order == nil {
		return orderFailure(domain.CodeOrderNotFound,
			fmt.Sprintf("order not found for merchant order: %s", merchantOrderID))
	}
	return OrderResult{Order: order, Success: true}
}

func (s *OrderService) List(ctx context.Context, f repository.OrderFilter) ListOrdersResult {
	orders, total, err := s.repo.List(ctx, f)
	if err != nil {
		return ListOrdersResult{Success: false, Error: err.Error()}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	return ListOrdersResult{Orders: orders, Total: total, Page: f.Page, PageSize: f.PageSize, Success: true}
}

func (s *OrderService) Confirm(ctx context.Context, orderID uuid.UUID, merchantOrderID, actor string) OrderResult {
	var metadata map[string]any
	if merchantOrderID != "" {
		metadata = map[string]any{"merchant_order_id": merchantOrderID}
	}
	return s.transition(ctx, orderID, domain.OrderConfirmed, actor, "", metadata, func(o *domain.Order) {
		if merchantOrderID != "" {
			o.MerchantOrderID = merchantOrderID
		}
		now := nowUTC()
		o.ConfirmedAt = &now
	})
}

func (s *OrderService) Ship(ctx context.Context, orderID uuid.UUID, trackingNumber, carrier, actor string) OrderResult {
	return s.transition(ctx, orderID, domain.OrderShipped, actor, "", map[string]any{
		"tracking_number": trackingNumber,
		"carrier":         carrier,
	}, func(o *domain.Order) {
		o.TrackingNumber = trackingNumber
		o.Carrier = carrier
		now := nowUTC()
		o.ShippedAt = &now
	})
}

func (s *OrderService) Deliver(ctx context.Context, orderID uuid.UUID, actor string) OrderResult {
	return s.transition(ctx, orderID, domain.OrderDelivered, actor, "", nil, func(o *domain.Order) {
		now := nowUTC()
		o.DeliveredAt = &now
	})
}

func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason, cancelledBy string) OrderResult {
	return s.transition(ctx, orderID, domain.OrderCancelled, cancelledBy, reason, nil, func(o *domain.Order) {
		o.CancelReason = reason
		o.CancelledBy = cancelledBy
		now := nowUTC()
		o.CancelledAt = &now
	})
}

func (s *OrderService) MarkReturned(ctx context.Context, orderID uuid.UUID, reason, actor string) OrderResult {
	return s.transition(ctx, orderID, domain.OrderReturned, actor, reason, nil, nil)
}

// Refund refunds amountCents, or the full order total when amountCents <= 0.
func (s *OrderService) Refund(ctx context.Context, orderID uuid.UUID, amountCents int64, reason, actor string) OrderResult {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return orderFailure(domain.CodeOrderNotFound, err.Error())
	}
	if order == nil {
		return orderFailure(domain.CodeOrderNotFound, fmt.Sprintf("order not found: %s", orderID))
	}
	if amountCents <= 0 {
		amountCents = order.TotalCents
	}
	return s.transition(ctx, orderID, domain.OrderRefunded, actor, reason, map[string]any{
		"refund_amount_cents": amountCents,
	}, func(o *domain.Order) {
		o.RefundAmountCents = amountCents
		o.RefundReason = reason
		now := nowUTC()
		o.RefundedAt = &now
	})
}

// SimulateAdvance walks the order through the fixed progression
// PENDING → CONFIRMED → SHIPPED → DELIVERED for up to steps transitions,
// stopping early once no progression applies. The shipped step
// synthesizes tracking info.
func (s *OrderService) SimulateAdvance(ctx context.Context, orderID uuid.UUID, steps int) OrderResult {
	result := s.Get(ctx, orderID)
	if !result.Success {
		return result
	}

	for i := 0; i < steps; i++ {
		var step OrderResult
		switch result.Order.Status {
		case domain.OrderPending:
			step = s.Confirm(ctx, orderID, "", "simulate")
		case domain.OrderConfirmed:
			tracking := "SIM" + strings.ToUpper(uuid.NewString()[:8])
			step = s.Ship(ctx, orderID, tracking, "SimCarrier", "simulate")
		case domain.OrderShipped:
			step = s.Deliver(ctx, orderID, "simulate")
		default:
			// Nothing left to advance; not an error.
			return result
		}
		if !step.Success {
			return step
		}
		result = step
	}
	return result
}

// transition is the single mutation path for orders: load, validate
// against the freshly loaded status, apply, persist under CAS.
func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, target domain.OrderStatus,
	actor, reason string, metadata map[string]any, update func(*domain.Order)) OrderResult {

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return orderFailure(domain.CodeOrderNotFound, err.Error())
	}
	if order == nil {
		return orderFailure(domain.CodeOrderNotFound, fmt.Sprintf("order not found: %s", orderID))
	}

	from := order.Status
	if err := order.ApplyTransition(target, actor, reason, metadata, update); err != nil {
		var ist *domain.InvalidStateTransitionError
		if errors.As(err, &ist) {
			logger.Warn("order transition rejected",
				"order_id", orderID, "from", ist.Current, "to", ist.Target)
			return orderFailure(domain.CodeInvalidTransition, err.Error())
		}
		return orderFailure(domain.CodeInvalidTransition, err.Error())
	}

	if err := s.repo.Update(ctx, order); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			logger.Warn("order update lost concurrent race", "order_id", orderID, "to", target)
			return orderFailure(domain.CodeInvalidTransition,
				fmt.Sprintf("order %s was modified concurrently", orderID))
		}
		return orderFailure(domain.CodeInvalidTransition, err.Error())
	}

	logger.Info("order status transitioned",
		"order_id", orderID, "from", from, "to", target, "actor", actor)

	s.publish(ctx, order, "order."+string(target))
	return OrderResult{Order: order, Success: true}
}

func (s *OrderService) publish(ctx context.Context, order *domain.Order, eventType string) {
	event := map[string]any{
		"event_type":        eventType,
		"order_id":          order.ID.String(),
		"checkout_id":       order.CheckoutID.String(),
		"merchant_id":       order.MerchantID,
		"merchant_order_id": order.MerchantOrderID,
		"status":            order.Status,
		"total_cents":       order.TotalCents,
	}
	if err := s.publisher.Publish(ctx, order.ID.String(), event); err != nil {
		logger.Warn("failed to publish order event", "order_id", order.ID, "type", eventType, "err", err)
	}
}
