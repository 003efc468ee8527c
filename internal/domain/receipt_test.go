package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItems() []FrozenReceiptItem {
	return []FrozenReceiptItem{
		{ProductID: "prod-1", VariantID: "var-1", SKU: "SKU1", Title: "Widget", UnitPriceCents: 1500, Quantity: 2, Currency: "USD"},
		{ProductID: "prod-2", SKU: "SKU2", Title: "Gadget", UnitPriceCents: 900, Quantity: 1, Currency: "USD"},
	}
}

func TestNewFrozenReceiptHashDeterministic(t *testing.T) {
	a := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4700, "USD")
	b := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4700, "USD")

	require.Len(t, a.Hash, 16)
	assert.Equal(t, a.Hash, b.Hash, "same inputs must produce the same hash")
}

func TestNewFrozenReceiptHashSensitivity(t *testing.T) {
	base := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4700, "USD")

	differentTotal := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4800, "USD")
	assert.NotEqual(t, base.Hash, differentTotal.Hash)

	differentCurrency := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4700, "EUR")
	assert.NotEqual(t, base.Hash, differentCurrency.Hash)

	items := sampleItems()
	items[0].Quantity = 3
	differentQty := NewFrozenReceipt(items, 3900, 300, 500, 4700, "USD")
	assert.NotEqual(t, base.Hash, differentQty.Hash)

	reordered := []FrozenReceiptItem{sampleItems()[1], sampleItems()[0]}
	differentOrder := NewFrozenReceipt(reordered, 3900, 300, 500, 4700, "USD")
	assert.NotEqual(t, base.Hash, differentOrder.Hash, "item order is part of the identity")
}

func TestMatchesTotalExact(t *testing.T) {
	r := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4700, "USD")

	assert.True(t, r.MatchesTotal(4700))
	assert.False(t, r.MatchesTotal(4701), "one cent off is a mismatch")
	assert.False(t, r.MatchesTotal(4699))
}

func TestPriceDifference(t *testing.T) {
	r := NewFrozenReceipt(sampleItems(), 3900, 300, 500, 4700, "USD")

	assert.Equal(t, int64(300), r.PriceDifference(5000))
	assert.Equal(t, int64(-200), r.PriceDifference(4500))
	assert.Equal(t, int64(0), r.PriceDifference(4700))
}

func TestNewFrozenReceiptCopiesItems(t *testing.T) {
	items := sampleItems()
	r := NewFrozenReceipt(items, 3900, 300, 500, 4700, "USD")

	items[0].UnitPriceCents = 1
	assert.Equal(t, int64(1500), r.Items[0].UnitPriceCents, "receipt must not alias caller's slice")
}
