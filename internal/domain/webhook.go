package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// EventType is the closed vocabulary of merchant webhook events.
type EventType string

const (
	EventCheckoutCreated   EventType = "checkout.created"
	EventCheckoutQuoted    EventType = "checkout.quoted"
	EventCheckoutConfirmed EventType = "checkout.confirmed"
	EventCheckoutFailed    EventType = "checkout.failed"
	EventCheckoutExpired   EventType = "checkout.expired"
	EventOrderCreated      EventType = "order.created"
	EventOrderConfirmed    EventType = "order.confirmed"
	EventOrderShipped      EventType = "order.shipped"
	EventOrderDelivered    EventType = "order.delivered"
	EventOrderCancelled    EventType = "order.cancelled"
	EventOrderRefunded     EventType = "order.refunded"
	EventPriceChanged      EventType = "price.changed"
	EventStockChanged      EventType = "stock.changed"
)

var knownEventTypes = map[EventType]bool{
	EventCheckoutCreated: true, EventCheckoutQuoted: true, EventCheckoutConfirmed: true,
	EventCheckoutFailed: true, EventCheckoutExpired: true,
	EventOrderCreated: true, EventOrderConfirmed: true, EventOrderShipped: true,
	EventOrderDelivered: true, EventOrderCancelled: true, EventOrderRefunded: true,
	EventPriceChanged: true, EventStockChanged: true,
}

func (t EventType) IsKnown() bool {
	return knownEventTypes[t]
}

// EventStatus is the processing state of a received webhook event.
// It only ever moves RECEIVED → PROCESSING → {PROCESSED, FAILED};
// DUPLICATE is assigned to a second delivery, never to the original record.
type EventStatus string

const (
	EventReceived   EventStatus = "received"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
	EventDuplicate  EventStatus = "duplicate"
)

// WebhookEvent is a single merchant delivery. EventID is unique per
// merchant and is the identity used for deduplication.
type WebhookEvent struct {
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	MerchantID string          `json:"merchant_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
	Signature  string          `json:"-"`
}

// PayloadHash returns the SHA-256 of the normalized event payload. Stored
// for audit; dedup identity is (merchant id, event id), not content.
func (e WebhookEvent) PayloadHash() string {
	normalized, _ := json.Marshal(struct {
		EventID    string          `json:"event_id"`
		EventType  EventType       `json:"event_type"`
		MerchantID string          `json:"merchant_id"`
		Data       json.RawMessage `json:"data"`
	}{e.EventID, e.EventType, e.MerchantID, e.Data})
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

// EventRecord is the durable log entry for a received event.
type EventRecord struct {
	EventID       string          `json:"event_id"`
	MerchantID    string          `json:"merchant_id"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PayloadHash   string          `json:"payload_hash"`
	Status        EventStatus     `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}
