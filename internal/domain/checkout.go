package domain

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutItem is a line in a checkout session, priced by the merchant's
// latest quote.
type CheckoutItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	SKU            string `json:"sku"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Currency       string `json:"currency"`
}

func (i CheckoutItem) LineTotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

func (i CheckoutItem) ToFrozenItem() FrozenReceiptItem {
	return FrozenReceiptItem{
		ProductID:      i.ProductID,
		VariantID:      i.VariantID,
		SKU:            i.SKU,
		Title:          i.Title,
		UnitPriceCents: i.UnitPriceCents,
		Quantity:       i.Quantity,
		Currency:       i.Currency,
	}
}

// AuditEntry is one append-only record in an aggregate's audit trail.
type AuditEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

const checkoutTTL = 24 * time.Hour

// Checkout is a purchase session that requires approval before the
// purchase is executed. Items and prices are only mutable while the status
// is quotable; the frozen receipt, once set, is either consumed by
// confirmation or replaced together with a rollback to QUOTED.
type Checkout struct {
	ID                 uuid.UUID      `json:"id"`
	OfferID            string         `json:"offer_id"`
	MerchantID         string         `json:"merchant_id"`
	Status             CheckoutStatus `json:"status"`
	Items              []CheckoutItem `json:"items"`
	SubtotalCents      int64          `json:"subtotal_cents"`
	TaxCents           int64          `json:"tax_cents"`
	ShippingCents      int64          `json:"shipping_cents"`
	TotalCents         int64          `json:"total_cents"`
	Currency           string         `json:"currency"`
	CustomerEmail      string         `json:"customer_email,omitempty"`
	MerchantCheckoutID string         `json:"merchant_checkout_id,omitempty"`
	ReceiptHash        string         `json:"receipt_hash,omitempty"`
	FrozenReceipt      *FrozenReceipt `json:"frozen_receipt,omitempty"`
	MerchantOrderID    string         `json:"merchant_order_id,omitempty"`
	ApprovedBy         string         `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty"`
	ConfirmedAt        *time.Time     `json:"confirmed_at,omitempty"`
	ExpiresAt          time.Time      `json:"expires_at"`
	FailureReason      string         `json:"failure_reason,omitempty"`
	IdempotencyKey     string         `json:"idempotency_key,omitempty"`
	AuditTrail         []AuditEntry   `json:"audit_trail"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Version            int64          `json:"version"`
}

// NewCheckout creates a checkout in CREATED with a 24h expiration window.
func NewCheckout(offerID, merchantID, idempotencyKey string) *Checkout {
	now := time.Now().UTC()
	c := &Checkout{
		ID:             uuid.New(),
		OfferID:        offerID,
		MerchantID:     merchantID,
		Status:         CheckoutCreated,
		Currency:       "USD",
		IdempotencyKey: idempotencyKey,
		ExpiresAt:      now.Add(checkoutTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.addAudit("checkout_created", "", string(CheckoutCreated), "system", map[string]any{
		"offer_id":    offerID,
		"merchant_id": merchantID,
	})
	return c
}

func (c *Checkout) addAudit(action, from, to, actor string, details map[string]any) {
	c.AuditTrail = append(c.AuditTrail, AuditEntry{
		Timestamp:  time.Now().UTC(),
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Details:    details,
	})
}

func (c *Checkout) touch() {
	c.UpdatedAt = time.Now().UTC()
}

func (c *Checkout) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().UTC().After(c.ExpiresAt)
}

// RequiresReapproval reports whether the current total has drifted away
// from the frozen receipt.
func (c *Checkout) RequiresReapproval() bool {
	if c.FrozenReceipt == nil {
		return false
	}
	return !c.FrozenReceipt.MatchesTotal(c.TotalCents)
}

// QuoteUpdate carries the fields of a merchant quote applied to a checkout.
type QuoteUpdate struct {
	Items              []CheckoutItem
	SubtotalCents      int64
	TaxCents           int64
	ShippingCents      int64
	TotalCents         int64
	Currency           string
	MerchantCheckoutID string
	ReceiptHash        string
}

// SetQuote applies a merchant quote. When the checkout sits in a
// reapproval-eligible state and the new total no longer matches the frozen
// receipt, the status rolls back to QUOTED and the receipt is cleared; the
// return value reports whether that happened.
func (c *Checkout) SetQuote(q QuoteUpdate) (reapprovalRequired bool, err error) {
	if c.IsExpired() {
		return false, &CheckoutExpiredError{CheckoutID: c.ID.String()}
	}

	if c.Status.RequiresReapproval() {
		if c.FrozenReceipt != nil && !c.FrozenReceipt.MatchesTotal(q.TotalCents) {
			old := c.Status
			c.Status = CheckoutQuoted
			c.FrozenReceipt = nil
			reapprovalRequired = true
			c.addAudit("price_changed_reapproval_required", string(old), string(c.Status), "system", map[string]any{
				"original_total_cents": c.TotalCents,
				"new_total_cents":      q.TotalCents,
			})
		}
	} else {
		if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutQuoted); err != nil {
			return false, err
		}
		old := c.Status
		c.Status = CheckoutQuoted
		c.addAudit("quote_received", string(old), string(c.Status), "system", map[string]any{
			"total_cents":          q.TotalCents,
			"merchant_checkout_id": q.MerchantCheckoutID,
		})
	}

	c.Items = q.Items
	c.SubtotalCents = q.SubtotalCents
	c.TaxCents = q.TaxCents
	c.ShippingCents = q.ShippingCents
	c.TotalCents = q.TotalCents
	c.Currency = q.Currency
	c.MerchantCheckoutID = q.MerchantCheckoutID
	c.ReceiptHash = q.ReceiptHash
	c.touch()
	return reapprovalRequired, nil
}

// NotePriceChange records a merchant-pushed price change. When the
// checkout sits in a reapproval-eligible state with a frozen receipt that
// no longer matches, it rolls back to QUOTED, clears the receipt and
// updates the total; otherwise only the total moves.
func (c *Checkout) NotePriceChange(newTotalCents int64) (reapprovalRequired bool) {
	if c.Status.RequiresReapproval() && c.FrozenReceipt != nil && !c.FrozenReceipt.MatchesTotal(newTotalCents) {
		old := c.Status
		c.Status = CheckoutQuoted
		c.FrozenReceipt = nil
		reapprovalRequired = true
		c.addAudit("price_changed_reapproval_required", string(old), string(c.Status), "merchant", map[string]any{
			"original_total_cents": c.TotalCents,
			"new_total_cents":      newTotalCents,
		})
	}
	c.TotalCents = newTotalCents
	c.touch()
	return reapprovalRequired
}

// RollbackToQuoted drops the frozen receipt and returns the checkout to
// QUOTED. Used when the merchant rejects a confirmation with a price
// change the local state never observed.
func (c *Checkout) RollbackToQuoted(reason string) error {
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutQuoted); err != nil {
		return err
	}
	old := c.Status
	c.Status = CheckoutQuoted
	c.FrozenReceipt = nil
	c.touch()
	c.addAudit("rolled_back_to_quoted", string(old), string(c.Status), "merchant", map[string]any{
		"reason": reason,
	})
	return nil
}

// RequestApproval freezes the current pricing and moves the checkout to
// AWAITING_APPROVAL.
func (c *Checkout) RequestApproval() (*FrozenReceipt, error) {
	if c.IsExpired() {
		return nil, &CheckoutExpiredError{CheckoutID: c.ID.String()}
	}
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutAwaitingApproval); err != nil {
		return nil, err
	}

	frozenItems := make([]FrozenReceiptItem, len(c.Items))
	for i, it := range c.Items {
		frozenItems[i] = it.ToFrozenItem()
	}
	receipt := NewFrozenReceipt(frozenItems, c.SubtotalCents, c.TaxCents, c.ShippingCents, c.TotalCents, c.Currency)

	old := c.Status
	c.FrozenReceipt = &receipt
	c.Status = CheckoutAwaitingApproval
	c.touch()
	c.addAudit("approval_requested", string(old), string(c.Status), "system", map[string]any{
		"frozen_receipt_hash": receipt.Hash,
		"total_cents":         c.TotalCents,
	})
	return &receipt, nil
}

// Approve records the approver and moves the checkout to APPROVED. A price
// drift since the approval request fails with ReapprovalRequiredError.
func (c *Checkout) Approve(approvedBy string) error {
	if c.IsExpired() {
		return &CheckoutExpiredError{CheckoutID: c.ID.String()}
	}
	if c.FrozenReceipt != nil && !c.FrozenReceipt.MatchesTotal(c.TotalCents) {
		return &ReapprovalRequiredError{
			CheckoutID:   c.ID.String(),
			FrozenCents:  c.FrozenReceipt.TotalCents,
			CurrentCents: c.TotalCents,
		}
	}
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutApproved); err != nil {
		return err
	}

	now := time.Now().UTC()
	old := c.Status
	c.Status = CheckoutApproved
	c.ApprovedBy = approvedBy
	c.ApprovedAt = &now
	c.touch()
	c.addAudit("approved", string(old), string(c.Status), approvedBy, map[string]any{
		"total_cents": c.TotalCents,
	})
	return nil
}

// Confirm executes the final transition to CONFIRMED, recording the
// merchant's order id. The price check here is the last line of defense
// against a drift between approval and confirmation.
func (c *Checkout) Confirm(merchantOrderID string) error {
	if c.IsExpired() {
		return &CheckoutExpiredError{CheckoutID: c.ID.String()}
	}
	if c.FrozenReceipt != nil && !c.FrozenReceipt.MatchesTotal(c.TotalCents) {
		return &ReapprovalRequiredError{
			CheckoutID:   c.ID.String(),
			FrozenCents:  c.FrozenReceipt.TotalCents,
			CurrentCents: c.TotalCents,
		}
	}
	if c.Status != CheckoutApproved {
		return &NotApprovedError{CheckoutID: c.ID.String(), Status: c.Status}
	}
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutConfirmed); err != nil {
		return err
	}

	now := time.Now().UTC()
	old := c.Status
	c.Status = CheckoutConfirmed
	c.MerchantOrderID = merchantOrderID
	c.ConfirmedAt = &now
	c.touch()
	c.addAudit("confirmed", string(old), string(c.Status), "system", map[string]any{
		"merchant_order_id": merchantOrderID,
		"total_cents":       c.TotalCents,
	})
	return nil
}

// Fail marks the checkout FAILED, e.g. when the merchant rejects the
// confirmation for a reason other than price.
func (c *Checkout) Fail(code, message string) error {
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutFailed); err != nil {
		return err
	}
	old := c.Status
	c.Status = CheckoutFailed
	c.FailureReason = code + ": " + message
	c.touch()
	c.addAudit("failed", string(old), string(c.Status), "system", map[string]any{
		"error_code":    code,
		"error_message": message,
	})
	return nil
}

func (c *Checkout) Cancel(reason, cancelledBy string) error {
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutCancelled); err != nil {
		return err
	}
	old := c.Status
	c.Status = CheckoutCancelled
	c.FailureReason = reason
	c.touch()
	c.addAudit("cancelled", string(old), string(c.Status), cancelledBy, map[string]any{
		"reason": reason,
	})
	return nil
}

// Expire marks an overdue checkout EXPIRED. Called lazily when a mutating
// operation finds the 24h window passed.
func (c *Checkout) Expire() error {
	if err := ValidateCheckoutTransition(c.ID.String(), c.Status, CheckoutExpired); err != nil {
		return err
	}
	old := c.Status
	c.Status = CheckoutExpired
	c.touch()
	c.addAudit("expired", string(old), string(c.Status), "system", nil)
	return nil
}
