package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, ":8080", cfg.Address())
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 12*time.Hour, cfg.CartTTL)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, 4, cfg.CheckoutMaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.CheckoutRetryBase)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvironmentOverridesDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nCHECKOUT_MAX_ATTEMPTS=7\nLOCK_TIMEOUT_MS=500\n"), 0o600))
	t.Setenv("CHECKOUT_MAX_ATTEMPTS", "2")

	cfg := LoadFrom(path)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 2, cfg.CheckoutMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
}

func TestNonsenseValuesAreFloored(t *testing.T) {
	t.Setenv("CHECKOUT_MAX_ATTEMPTS", "0")
	t.Setenv("CHECKOUT_RETRY_BASE_MS", "-5")

	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, 1, cfg.CheckoutMaxAttempts)
	assert.Zero(t, cfg.CheckoutRetryBase)
}
