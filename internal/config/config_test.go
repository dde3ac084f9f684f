package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "STRIPE_SECRET_KEY", "")
	setEnv(t, "TOPUP_SUCCESS_URL", "")
	setEnv(t, "TOPUP_CANCEL_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultPlatformAccountID, cfg.PlatformAccountID)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
	assert.False(t, cfg.TopupsEnabled())
}

func TestLoad_GatewayTriple(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_123")
	setEnv(t, "TOPUP_SUCCESS_URL", "")
	setEnv(t, "TOPUP_CANCEL_URL", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")

	setEnv(t, "TOPUP_SUCCESS_URL", "https://market.example/topup/success")
	setEnv(t, "TOPUP_CANCEL_URL", "https://market.example/topup/cancel")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.TopupsEnabled())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid memory-backed dev config",
			config:  Config{Env: "development", PlatformAccountID: "platform"},
			wantErr: "",
		},
		{
			name:    "empty platform account",
			config:  Config{Env: "development", PlatformAccountID: ""},
			wantErr: "PLATFORM_ACCOUNT_ID",
		},
		{
			name: "partial gateway config",
			config: Config{
				Env:               "development",
				PlatformAccountID: "platform",
				StripeSecretKey:   "sk_test_123",
			},
			wantErr: "must be set together",
		},
		{
			name: "production requires gateway",
			config: Config{
				Env:               "production",
				PlatformAccountID: "platform",
			},
			wantErr: "STRIPE_SECRET_KEY is required in production",
		},
		{
			name: "full gateway config",
			config: Config{
				Env:               "production",
				PlatformAccountID: "platform",
				StripeSecretKey:   "sk_live_123",
				TopupSuccessURL:   "https://market.example/ok",
				TopupCancelURL:    "https://market.example/cancel",
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}
