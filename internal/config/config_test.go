package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_GROUP_ID", "")
	t.Setenv("EVENTS_TOPIC", "")
	t.Setenv("MERCHANT_TIMEOUT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTP_PORT)
	assert.Equal(t, "merchant-events", cfg.KAFKA_TOPIC)
	assert.Equal(t, "checkout-service", cfg.KAFKA_GROUP_ID)
	assert.Equal(t, "checkout-domain-events", cfg.EVENTS_TOPIC)
	assert.Equal(t, 10*time.Second, cfg.MerchantTimeout)
}

func TestLoadConfigWebhookSecret(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "fallback-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "fallback-secret", cfg.WEBHOOK_SECRET)
}

func TestLoadConfigMerchants(t *testing.T) {
	t.Setenv("MERCHANT_IDS", "merchant-a, merchant-b")
	t.Setenv("MERCHANT_A_URL", "http://merchant-a.local")
	t.Setenv("MERCHANT_A_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Merchants, 2)
	assert.Equal(t, "http://merchant-a.local", cfg.Merchants["merchant-a"].BaseURL)
	assert.Equal(t, "s3cret", cfg.Merchants["merchant-a"].WebhookSecret)
}

func TestLoadConfigOffers(t *testing.T) {
	t.Setenv("OFFERS", "offer-1:merchant-a, offer-2:merchant-b")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "merchant-a", cfg.Offers["offer-1"])
	assert.Equal(t, "merchant-b", cfg.Offers["offer-2"])

	t.Setenv("OFFERS", "offer-without-merchant")
	_, err = LoadConfig()
	require.Error(t, err)
}
