package application

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/repository"
)

func orderParams() CreateOrderParams {
	return CreateOrderParams{
		CheckoutID:      uuid.New(),
		MerchantID:      "merchant-a",
		MerchantOrderID: "m-order-1",
		Customer:        domain.Customer{Email: "alice@example.com"},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Title: "Widget", UnitPriceCents: 2000, Quantity: 2, Currency: "USD"},
		},
		SubtotalCents: 4000,
		TaxCents:      320,
		ShippingCents: 500,
		TotalCents:    4820,
		Currency:      "USD",
	}
}

func newOrderService() *OrderService {
	return NewOrderService(repository.NewMemoryOrderRepo(), nil)
}

func TestCreateFromCheckout(t *testing.T) {
	svc := newOrderService()

	res := svc.CreateFromCheckout(context.Background(), orderParams())
	require.True(t, res.Success)
	assert.Equal(t, domain.OrderPending, res.Order.Status)
	assert.Equal(t, "m-order-1", res.Order.MerchantOrderID)
}

func TestCreateFromCheckoutIdempotent(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	p := orderParams()

	first := svc.CreateFromCheckout(ctx, p)
	require.True(t, first.Success)

	second := svc.CreateFromCheckout(ctx, p)
	require.True(t, second.Success)
	assert.Equal(t, first.Order.ID, second.Order.ID, "one order per checkout")
}

func TestOrderLifecycle(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())
	require.True(t, created.Success)
	id := created.Order.ID

	res := svc.Confirm(ctx, id, "", "merchant")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.OrderConfirmed, res.Order.Status)
	require.NotNil(t, res.Order.ConfirmedAt)

	res = svc.Ship(ctx, id, "TRACK1", "UPS", "merchant")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "TRACK1", res.Order.TrackingNumber)
	assert.Equal(t, "UPS", res.Order.Carrier)

	res = svc.Deliver(ctx, id, "merchant")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.OrderDelivered, res.Order.Status)

	res = svc.Refund(ctx, id, 0, "defective", "agent")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.OrderRefunded, res.Order.Status)
	assert.Equal(t, int64(4820), res.Order.RefundAmountCents, "zero amount defaults to full total")

	require.Len(t, res.Order.StatusHistory, 5)
}

func TestPartialRefund(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())
	id := created.Order.ID

	require.True(t, svc.Confirm(ctx, id, "", "merchant").Success)
	require.True(t, svc.Ship(ctx, id, "T", "UPS", "merchant").Success)
	require.True(t, svc.Deliver(ctx, id, "merchant").Success)

	res := svc.Refund(ctx, id, 1000, "partial damage", "agent")
	require.True(t, res.Success)
	assert.Equal(t, int64(1000), res.Order.RefundAmountCents)
}

func TestRefundBeforeDeliveryRejected(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())

	res := svc.Refund(ctx, created.Order.ID, 0, "too early", "agent")
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidTransition, res.ErrorCode)
}

func TestCancelShippedOrder(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())
	id := created.Order.ID

	require.True(t, svc.Confirm(ctx, id, "", "merchant").Success)
	require.True(t, svc.Ship(ctx, id, "T", "UPS", "merchant").Success)

	res := svc.Cancel(ctx, id, "lost in transit", "agent")
	require.True(t, res.Success)
	assert.Equal(t, domain.OrderCancelled, res.Order.Status)
	assert.Equal(t, "lost in transit", res.Order.CancelReason)

	// delivered orders cannot cancel
	svc2 := newOrderService()
	created2 := svc2.CreateFromCheckout(ctx, orderParams())
	id2 := created2.Order.ID
	require.True(t, svc2.Confirm(ctx, id2, "", "merchant").Success)
	require.True(t, svc2.Ship(ctx, id2, "T", "UPS", "merchant").Success)
	require.True(t, svc2.Deliver(ctx, id2, "merchant").Success)

	res = svc2.Cancel(ctx, id2, "too late", "agent")
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidTransition, res.ErrorCode)
}

func TestReturnThenRefund(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())
	id := created.Order.ID

	require.True(t, svc.Confirm(ctx, id, "", "merchant").Success)
	require.True(t, svc.Ship(ctx, id, "T", "UPS", "merchant").Success)
	require.True(t, svc.Deliver(ctx, id, "merchant").Success)

	res := svc.MarkReturned(ctx, id, "wrong size", "agent")
	require.True(t, res.Success)
	assert.Equal(t, domain.OrderReturned, res.Order.Status)

	res = svc.Refund(ctx, id, 0, "returned", "agent")
	require.True(t, res.Success)
	assert.Equal(t, domain.OrderRefunded, res.Order.Status)
}

func TestSimulateAdvance(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())
	id := created.Order.ID

	res := svc.SimulateAdvance(ctx, id, 2)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.OrderShipped, res.Order.Status)
	assert.True(t, strings.HasPrefix(res.Order.TrackingNumber, "SIM"))
	assert.Len(t, res.Order.TrackingNumber, 11)
	assert.Equal(t, "SimCarrier", res.Order.Carrier)

	res = svc.SimulateAdvance(ctx, id, 5)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.OrderDelivered, res.Order.Status, "stops at DELIVERED")
}

func TestGetByMerchantOrderID(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()
	created := svc.CreateFromCheckout(ctx, orderParams())

	res := svc.GetByMerchantOrderID(ctx, "merchant-a", "m-order-1")
	require.True(t, res.Success)
	assert.Equal(t, created.Order.ID, res.Order.ID)

	res = svc.GetByMerchantOrderID(ctx, "merchant-b", "m-order-1")
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeOrderNotFound, res.ErrorCode)
}

func TestListOrdersFiltered(t *testing.T) {
	svc := newOrderService()
	ctx := context.Background()

	a := orderParams()
	created := svc.CreateFromCheckout(ctx, a)
	require.True(t, created.Success)
	require.True(t, svc.Confirm(ctx, created.Order.ID, "", "merchant").Success)

	b := orderParams()
	b.MerchantOrderID = "m-order-2"
	require.True(t, svc.CreateFromCheckout(ctx, b).Success)

	res := svc.List(ctx, repository.OrderFilter{Status: domain.OrderPending})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Total)

	res = svc.List(ctx, repository.OrderFilter{MerchantID: "merchant-a"})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Total)
}
