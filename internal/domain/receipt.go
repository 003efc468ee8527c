package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// FrozenReceiptItem is an immutable snapshot of one checkout line at the
// moment approval was requested.
type FrozenReceiptItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	SKU            string `json:"sku"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Currency       string `json:"currency"`
}

func (i FrozenReceiptItem) LineTotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// FrozenReceipt captures the exact priced state of a checkout when approval
// was requested. Its hash makes the snapshot tamper-evident; its total is
// the reference for price-change detection.
type FrozenReceipt struct {
	Hash          string              `json:"hash"`
	Items         []FrozenReceiptItem `json:"items"`
	SubtotalCents int64               `json:"subtotal_cents"`
	TaxCents      int64               `json:"tax_cents"`
	ShippingCents int64               `json:"shipping_cents"`
	TotalCents    int64               `json:"total_cents"`
	Currency      string              `json:"currency"`
	FrozenAt      time.Time           `json:"frozen_at"`
}

// NewFrozenReceipt builds a receipt with a deterministic hash. The hash
// input uses a fixed field order and the item list order, so it does not
// depend on any map iteration.
func NewFrozenReceipt(items []FrozenReceiptItem, subtotal, tax, shipping, total int64, currency string) FrozenReceipt {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s:%s:%d:%d", it.ProductID, it.VariantID, it.Quantity, it.UnitPriceCents)
	}
	input := fmt.Sprintf("%d|%s|%s", total, currency, strings.Join(parts, "|"))
	sum := sha256.Sum256([]byte(input))

	frozen := make([]FrozenReceiptItem, len(items))
	copy(frozen, items)

	return FrozenReceipt{
		Hash:          hex.EncodeToString(sum[:])[:16],
		Items:         frozen,
		SubtotalCents: subtotal,
		TaxCents:      tax,
		ShippingCents: shipping,
		TotalCents:    total,
		Currency:      currency,
		FrozenAt:      time.Now().UTC(),
	}
}

// MatchesTotal compares the frozen total against a current total with
// exact integer-cents equality. No tolerance band.
func (r FrozenReceipt) MatchesTotal(currentCents int64) bool {
	return r.TotalCents == currentCents
}

// PriceDifference returns current minus frozen, positive when the price
// went up.
func (r FrozenReceipt) PriceDifference(currentCents int64) int64 {
	return currentCents - r.TotalCents
}
