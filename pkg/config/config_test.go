package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ubipay")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Ledger.BalanceCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.IdempotencyTTL)
	assert.Equal(t, "log", cfg.Notification.Sink)
	assert.Equal(t, "1", cfg.Reconciliation.AutoResolveThreshold.String())
	require.NoError(t, cfg.ValidateCore())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("RECON_PROVIDERS", "MPESA, STRIPE ,")
	t.Setenv("RISK_VELOCITY_MAX_VOLUME", "250000.50")
	t.Setenv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	t.Setenv("MPESA_CLIENT_ID", "client")

	cfg := Load()

	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"MPESA", "STRIPE"}, cfg.Reconciliation.Providers)
	assert.Equal(t, "250000.5", cfg.Risk.VelocityMaxVolume.String())
	require.Contains(t, cfg.Providers.Endpoints, "MPESA")
	assert.Equal(t, "client", cfg.Providers.Endpoints["MPESA"].ClientID)
	assert.NotContains(t, cfg.Providers.Endpoints, "STRIPE")
}

func TestValidateCore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := Load()
	assert.ErrorContains(t, cfg.ValidateCore(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/ubipay")
	t.Setenv("NOTIFICATION_SINK", "pigeon")
	cfg = Load()
	assert.ErrorContains(t, cfg.ValidateCore(), "NOTIFICATION_SINK")
}
