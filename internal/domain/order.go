package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	SKU            string `json:"sku,omitempty"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Currency       string `json:"currency"`
}

func (i OrderItem) LineTotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// StatusHistoryEntry is one append-only record of an order transition.
type StatusHistoryEntry struct {
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status"`
	Reason     string         `json:"reason,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Order tracks a confirmed purchase through its delivery lifecycle. At
// most one order exists per checkout.
type Order struct {
	ID              uuid.UUID   `json:"id"`
	CheckoutID      uuid.UUID   `json:"checkout_id"`
	MerchantID      string      `json:"merchant_id"`
	MerchantOrderID string      `json:"merchant_order_id,omitempty"`
	Status          OrderStatus `json:"status"`
	Customer        Customer    `json:"customer"`
	ShippingAddress Address     `json:"shipping_address"`
	BillingAddress  *Address    `json:"billing_address,omitempty"`
	Items           []OrderItem `json:"items"`
	SubtotalCents   int64       `json:"subtotal_cents"`
	TaxCents        int64       `json:"tax_cents"`
	ShippingCents   int64       `json:"shipping_cents"`
	TotalCents      int64       `json:"total_cents"`
	Currency        string      `json:"currency"`

	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"carrier,omitempty"`

	CancelReason      string `json:"cancel_reason,omitempty"`
	CancelledBy       string `json:"cancelled_by,omitempty"`
	RefundAmountCents int64  `json:"refund_amount_cents,omitempty"`
	RefundReason      string `json:"refund_reason,omitempty"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	StatusHistory []StatusHistoryEntry `json:"status_history"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Version       int64                `json:"version"`
}

// NewOrder creates a PENDING order from a confirmed checkout's data.
func NewOrder(checkoutID uuid.UUID, merchantID, merchantOrderID string, customer Customer,
	shipping Address, billing *Address, items []OrderItem,
	subtotal, tax, shippingCents, total int64, currency string) *Order {

	now := time.Now().UTC()
	return &Order{
		ID:              uuid.New(),
		CheckoutID:      checkoutID,
		MerchantID:      merchantID,
		MerchantOrderID: merchantOrderID,
		Status:          OrderPending,
		Customer:        customer,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Items:           items,
		SubtotalCents:   subtotal,
		TaxCents:        tax,
		ShippingCents:   shippingCents,
		TotalCents:      total,
		Currency:        currency,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusHistory: []StatusHistoryEntry{{
			ToStatus:  string(OrderPending),
			Reason:    "order created from checkout",
			Actor:     "system",
			CreatedAt: now,
		}},
	}
}

// ApplyTransition validates and applies a status change, appending a
// history entry. Field updates tied to the target status (timestamps,
// tracking info, refund fields) are the caller's responsibility via the
// update func, which runs only after validation.
func (o *Order) ApplyTransition(target OrderStatus, actor, reason string, metadata map[string]any, update func(*Order)) error {
	if err := ValidateOrderTransition(o.ID.String(), o.Status, target); err != nil {
		return err
	}

	from := o.Status
	now := time.Now().UTC()
	if update != nil {
		update(o)
	}
	o.Status = target
	o.UpdatedAt = now
	o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{
		FromStatus: string(from),
		ToStatus:   string(target),
		Reason:     reason,
		Actor:      actor,
		Metadata:   metadata,
		CreatedAt:  now,
	})
	return nil
}
