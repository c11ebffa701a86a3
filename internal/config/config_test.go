package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tablepay")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("OPERATOR_TOKEN_SECRET", "operator-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 1000, cfg.ReconcileMaxLimit)
	assert.Equal(t, 60*time.Second, cfg.ReconcileBudget)
	assert.Equal(t, 3, cfg.ApplyMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, 10*time.Minute, cfg.RateLimitIdleTTL)
}

func TestLoad_TrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
}

func TestLoad_MissingSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("OPERATOR_TOKEN_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidDefaults(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"default limit above max", "RECONCILE_DEFAULT_LIMIT", "5000"},
		{"zero window", "RECONCILE_DEFAULT_WINDOW_HOURS", "0"},
		{"no apply attempts", "APPLY_MAX_ATTEMPTS", "0"},
		{"bad duration", "RECONCILE_BUDGET", "soon"},
		{"negative idle ttl", "RATE_LIMIT_IDLE_TTL", "-1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
