package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type MerchantConfig struct {
	ID            string
	BaseURL       string
	WebhookSecret string
}

type Config struct {
	HTTP_PORT       string
	DB_STRING       string
	KAFKA_BROKERS   string
	KAFKA_TOPIC     string
	KAFKA_GROUP_ID  string
	EVENTS_TOPIC    string
	MERCHANT_IDS    string
	WEBHOOK_SECRET  string
	MerchantTimeout time.Duration

	Merchants map[string]MerchantConfig

	// Offers maps offer id to merchant id, parsed from
	// OFFERS=offer-1:merchant-a,offer-2:merchant-b
	Offers map[string]string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTP_PORT:      os.Getenv("HTTP_PORT"),
		DB_STRING:      os.Getenv("DB_STRING"),
		KAFKA_BROKERS:  os.Getenv("KAFKA_BROKERS"),
		KAFKA_TOPIC:    os.Getenv("KAFKA_TOPIC"),
		KAFKA_GROUP_ID: os.Getenv("KAFKA_GROUP_ID"),
		EVENTS_TOPIC:   os.Getenv("EVENTS_TOPIC"),
		MERCHANT_IDS:   os.Getenv("MERCHANT_IDS"),
		WEBHOOK_SECRET: os.Getenv("WEBHOOK_SECRET"),
		Merchants:      map[string]MerchantConfig{},
		Offers:         map[string]string{},
	}

	if cfg.HTTP_PORT == "" {
		cfg.HTTP_PORT = "8080"
	}
	if cfg.KAFKA_TOPIC == "" {
		cfg.KAFKA_TOPIC = "merchant-events"
	}
	if cfg.KAFKA_GROUP_ID == "" {
		cfg.KAFKA_GROUP_ID = "checkout-service"
	}
	if cfg.EVENTS_TOPIC == "" {
		cfg.EVENTS_TOPIC = "checkout-domain-events"
	}

	cfg.MerchantTimeout = 10 * time.Second
	if v := os.Getenv("MERCHANT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("bad MERCHANT_TIMEOUT %q: %w", v, err)
		}
		cfg.MerchantTimeout = d
	}

	// MERCHANT_IDS=merchant-a,merchant-b; per merchant:
	// MERCHANT_A_URL, MERCHANT_A_SECRET (id uppercased, dashes to underscores)
	for _, id := range strings.Split(cfg.MERCHANT_IDS, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		envKey := strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
		cfg.Merchants[id] = MerchantConfig{
			ID:            id,
			BaseURL:       os.Getenv(envKey + "_URL"),
			WebhookSecret: os.Getenv(envKey + "_SECRET"),
		}
	}

	for _, pair := range strings.Split(os.Getenv("OFFERS"), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		offerID, merchantID, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("bad OFFERS entry %q, want offer:merchant", pair)
		}
		cfg.Offers[offerID] = merchantID
	}

	return cfg, nil
}
