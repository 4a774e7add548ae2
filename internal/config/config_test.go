package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults tests the defaults used when no environment is set
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3.0, cfg.Pricing.PlatformFeePercent)
	assert.Equal(t, "INR", cfg.Pricing.Currency)
	assert.Equal(t, "cashfree", cfg.Gateway.Provider)
	assert.Equal(t, 3, cfg.Reconciliation.MaxVersionRetries)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
}

// TestLoad_FromEnvironment tests environment overrides
func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PLATFORM_FEE_PERCENT", "5")
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("PAYMENT_GATEWAY_TIMEOUT", "3s")
	t.Setenv("RECONCILE_SWEEP_OLDER_THAN", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Pricing.PlatformFeePercent)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Reconciliation.SweepOlderThan)
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "fee above 100 percent",
			env:     map[string]string{"PLATFORM_FEE_PERCENT": "120"},
			wantErr: "PLATFORM_FEE_PERCENT",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"PAYMENT_PROVIDER": "paypal"},
			wantErr: "PAYMENT_PROVIDER",
		},
		{
			name:    "stripe without key",
			env:     map[string]string{"PAYMENT_PROVIDER": "stripe"},
			wantErr: "STRIPE_SECRET_KEY",
		},
		{
			name:    "memory storage in production",
			env:     map[string]string{"STORAGE_DRIVER": "memory", "SERVER_ENV": "production", "CASHFREE_CLIENT_ID": "id", "CASHFREE_CLIENT_SECRET": "secret"},
			wantErr: "STORAGE_DRIVER",
		},
		{
			name:    "cashfree credentials missing in production",
			env:     map[string]string{"SERVER_ENV": "production"},
			wantErr: "CASHFREE_CLIENT_ID",
		},
		{
			name:    "zero version retries",
			env:     map[string]string{"RECONCILE_MAX_VERSION_RETRIES": "0"},
			wantErr: "RECONCILE_MAX_VERSION_RETRIES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
