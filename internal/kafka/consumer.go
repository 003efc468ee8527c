package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relaycart/checkout-service/internal/application"
	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/logger"
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

// decodeEvent parses a broker message into a webhook event. An undecodable
// message is skipped and committed by the consumer loop.
func decodeEvent(value []byte) (domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return domain.WebhookEvent{}, err
	}
	return event, nil
}

// StartConsumer reads merchant events off the broker and feeds them into
// the same intake pipeline the webhook endpoint uses. Delivery is
// at-least-once; the event log's dedup makes redelivery safe, so a
// message commits as soon as the pipeline has recorded it.
func StartConsumer(ctx context.Context, svc *application.WebhookService, cfg ConsumerConfig) (*kafka.Reader, error) {
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	go func() {
		defer r.Close()

		backoff := time.Millisecond * 300
		for {
			m, err := r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka fetch error", "err", err)
				time.Sleep(backoff)
				continue
			}

			event, err := decodeEvent(m.Value)
			if err != nil {
				logger.Warn("kafka invalid json, skip and commit", "err", err)
				_ = r.CommitMessages(ctx, m)
				continue
			}

			// Processed, duplicate and handler-failed events all end up
			// in the event log; redelivering them buys nothing.
			result := svc.ProcessEvent(ctx, event)
			if err := r.CommitMessages(ctx, m); err != nil {
				logger.Warn("kafka commit failed", "err", err)
			} else {
				logger.Info("kafka event committed",
					"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
					"event_id", event.EventID, "status", result.Status)
			}
		}
	}()
	return r, nil
}
