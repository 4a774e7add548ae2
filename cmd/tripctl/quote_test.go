package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripnest/booking-payments/internal/service/pricing"
)

// TestQuoteCmd tests the price split printed for each mode and channel
func TestQuoteCmd(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    pricing.Quote
		wantErr bool
	}{
		{
			name: "full customer",
			args: []string{"quote", "--rate", "1500", "--travelers", "2"},
			want: pricing.Quote{TotalPrice: 3000, PlatformFee: 90, AgencyPayoutAmount: 2910, AmountDueNow: 3000, Currency: "INR"},
		},
		{
			name: "partial customer",
			args: []string{"quote", "--rate", "1500", "--travelers", "2", "--mode", "partial"},
			want: pricing.Quote{TotalPrice: 3000, PlatformFee: 90, AgencyPayoutAmount: 2910, AmountDueNow: 90, Currency: "INR"},
		},
		{
			name: "agency offline",
			args: []string{"quote", "--rate", "1000", "--travelers", "3", "--channel", "AGENCY_OFFLINE"},
			want: pricing.Quote{TotalPrice: 3000, PlatformFee: 3000, AgencyPayoutAmount: 0, AmountDueNow: 3000, Currency: "INR"},
		},
		{
			name:    "missing rate",
			args:    []string{"quote", "--travelers", "2"},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			args:    []string{"quote", "--rate", "100", "--mode", "LATER"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := rootCmd()
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got pricing.Quote
			require.NoError(t, json.Unmarshal(out.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestReconcileCmd_InvalidID tests argument validation before any connection
func TestReconcileCmd_InvalidID(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"reconcile", "not-a-uuid"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid booking id")
}
