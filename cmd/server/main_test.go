package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/config"
	"matchapos/backend/internal/logger"
	"matchapos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", CheckoutMaxAttempts: 4})
	assert.Error(t, err)

	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	assert.Error(t, err)
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", CheckoutMaxAttempts: 4})
	assert.NoError(t, err)
}

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{LockTimeout: time.Second}, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, closeFn)

	mem, ok := repo.(*memory.Store)
	require.True(t, ok)
	_, found := mem.VariantBySKU("M050")
	assert.True(t, found)
}

func TestOpenCartsFallsBackToMemory(t *testing.T) {
	carts, closeFn := openCarts(context.Background(), config.Config{CartTTL: time.Minute}, logger.Nop())
	assert.Nil(t, closeFn)
	assert.IsType(t, &cart.MemoryProvider{}, carts)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	carts, closeFn = openCarts(ctx, config.Config{RedisAddr: "127.0.0.1:1", CartTTL: time.Minute}, logger.Nop())
	assert.Nil(t, closeFn)
	assert.IsType(t, &cart.MemoryProvider{}, carts)
}
