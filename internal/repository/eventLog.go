package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycart/checkout-service/internal/domain"
)

// EventLog is the durable record of received webhook events, keyed by
// (merchant id, event id). Insert must be atomic: when two concurrent
// deliveries of the same pair race, exactly one insert wins.
type EventLog interface {
	// Insert stores the record and reports whether it was actually
	// inserted. false means the pair already existed (duplicate delivery).
	Insert(ctx context.Context, rec *domain.EventRecord) (bool, error)
	UpdateStatus(ctx context.Context, merchantID, eventID string, status domain.EventStatus, errorMessage string) error
	Get(ctx context.Context, merchantID, eventID string) (*domain.EventRecord, error)
}

type EventLogRepository struct {
	pool *pgxpool.Pool
}

func NewEventLogRepository(pool *pgxpool.Pool) *EventLogRepository {
	return &EventLogRepository{pool: pool}
}

func (r *EventLogRepository) Insert(ctx context.Context, rec *domain.EventRecord) (bool, error) {
	payload := []byte(rec.Payload)
	if payload == nil {
		// events without a data field still need a valid JSONB value
		payload = []byte("{}")
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO event_log (merchant_id, event_id, event_type, payload, payload_hash, status, correlation_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (merchant_id, event_id) DO NOTHING
	`, rec.MerchantID, rec.EventID, rec.EventType, payload, rec.PayloadHash, rec.Status, rec.CorrelationID, rec.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EventLogRepository) UpdateStatus(ctx context.Context, merchantID, eventID string, status domain.EventStatus, errorMessage string) error {
	var processedAt *time.Time
	if status == domain.EventProcessed {
		now := time.Now().UTC()
		processedAt = &now
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE event_log
		SET status = $3, error_message = NULLIF($4, ''), processed_at = COALESCE($5, processed_at)
		WHERE merchant_id = $1 AND event_id = $2
	`, merchantID, eventID, status, errorMessage, processedAt)
	return err
}

func (r *EventLogRepository) Get(ctx context.Context, merchantID, eventID string) (*domain.EventRecord, error) {
	var rec domain.EventRecord
	var payload []byte
	var errMsg *string
	err := r.pool.QueryRow(ctx, `
		SELECT merchant_id, event_id, event_type, payload, payload_hash, status, error_message, correlation_id, received_at, processed_at
		FROM event_log WHERE merchant_id = $1 AND event_id = $2
	`, merchantID, eventID).Scan(
		&rec.MerchantID, &rec.EventID, &rec.EventType, &payload, &rec.PayloadHash,
		&rec.Status, &errMsg, &rec.CorrelationID, &rec.ReceivedAt, &rec.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Payload = payload
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return &rec, nil
}
