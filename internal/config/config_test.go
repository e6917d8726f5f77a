package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STT_WS_URL", "")
	t.Setenv("JWT_EXPIRY", "")

	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "wss://api.openai.com/v1/realtime", cfg.STTWSURL)
	require.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	require.True(t, cfg.IsDevelopment())
	require.False(t, cfg.IsProduction())
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("PRESIDIO_ENABLED", "true")
	t.Setenv("JWT_REFRESH_EXPIRY", "60")

	cfg := Load()
	require.Equal(t, "9090", cfg.Port)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.PresidioEnabled)
	require.Equal(t, 60*time.Second, cfg.RefreshExpiry)
}
