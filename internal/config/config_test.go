package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COURIER_TIMEOUT", "")
	t.Setenv("GST_RATE", "")

	cfg := Load()
	assert.Equal(t, 8*time.Second, cfg.CourierTimeout)
	assert.Equal(t, 8*time.Hour, cfg.CourierTokenTTL)
	assert.True(t, cfg.GSTRate.Equal(decimal.RequireFromString("0.18")))
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("COURIER_TIMEOUT", "3s")
	t.Setenv("SHIPPING_WORKERS", "12")
	t.Setenv("GST_RATE", "0.05")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.CourierTimeout)
	assert.Equal(t, 12, cfg.ShippingWorkers)
	assert.True(t, cfg.GSTRate.Equal(decimal.RequireFromString("0.05")))
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("COURIER_TIMEOUT", "soon")
	t.Setenv("SHIPPING_WORKERS", "-3")
	t.Setenv("DELIVERY_CHARGE", "-1")

	cfg := Load()
	assert.Equal(t, 8*time.Second, cfg.CourierTimeout)
	assert.Equal(t, 4, cfg.ShippingWorkers)
	assert.True(t, cfg.DeliveryCharge.Equal(decimal.NewFromInt(49)))
}

func TestEmptyBackendsAreDisabled(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.KafkaBrokers)
}
