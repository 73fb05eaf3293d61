package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/pharmacore/pharmacore/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BILLING_WEBHOOK_TOKEN_HASH", "$2a$10$N9qo8uLOickgx2ZMRZoMye")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.CatalogCacheTTL)
	require.Equal(t, 90, cfg.ExpiryHorizonDays)
	require.True(t, cfg.RequireDistinctApprover)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresWebhookHash(t *testing.T) {
	t.Setenv("BILLING_WEBHOOK_TOKEN_HASH", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}
