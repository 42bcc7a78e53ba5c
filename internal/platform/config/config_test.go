package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_INT", "42")
	t.Setenv("CFG_INT64", "530000")
	t.Setenv("CFG_DURATION", "90s")
	t.Setenv("CFG_BAD_DURATION", "soon")
	t.Setenv("CFG_LIST", "kafka-1:9092, ,kafka-2:9092")

	assert.Equal(t, 42, GetEnvAsInt("CFG_INT", 1))
	assert.Equal(t, 7, GetEnvAsInt("CFG_MISSING", 7))
	assert.Equal(t, int64(530000), GetEnvAsInt64("CFG_INT64", 0))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("CFG_DURATION", time.Minute))
	assert.Equal(t, time.Minute, GetEnvAsDuration("CFG_BAD_DURATION", time.Minute))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, GetEnvAsList("CFG_LIST"))
	assert.Nil(t, GetEnvAsList("CFG_LIST_MISSING"))
}

func TestLoadCheckoutConfig_Defaults(t *testing.T) {
	cfg := LoadCheckoutConfig()

	assert.Equal(t, int64(30000), cfg.ShippingFee)
	assert.Equal(t, 15*time.Minute, cfg.PaymentExpiry)
	assert.Equal(t, "@every 1m", cfg.ExpirySchedule)
	assert.Equal(t, 10*time.Second, cfg.InitiateTimeout)
}

func TestLoadGatewayBConfig_DerivesCallbackURLs(t *testing.T) {
	cfg := LoadGatewayBConfig("https://shop.example")

	assert.Equal(t, "https://shop.example/api/v1/payments/return", cfg.RedirectURL)
	assert.Equal(t, "https://shop.example/api/v1/payments/callback/GATEWAY_B", cfg.IPNURL)
}
