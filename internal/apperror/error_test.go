package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappedErrorsKeepTheirClassification(t *testing.T) {
	base := NewInsufficientStock([]StockShortage{{VariantID: "v1", SKU: "M100", Available: 2, Requested: 3}})
	wrapped := fmt.Errorf("checkout: %w", base)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeInsufficientStock, appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	assert.True(t, IsKind(wrapped, KindStock))
	assert.Contains(t, appErr.Message, "M100")
	assert.False(t, IsRetryable(wrapped))
}

func TestSerializationConflictIsRetryableAndKeepsCause(t *testing.T) {
	cause := errors.New("could not serialize access")
	err := NewSerializationConflict(cause)

	assert.True(t, IsRetryable(err))
	assert.True(t, IsCode(err, CodeSerialization))
	assert.ErrorIs(t, err, cause)
}

func TestBusinessConflictsAreNotRetryable(t *testing.T) {
	assert.False(t, IsRetryable(NewAlreadyRefunded("ORD20260101000000-abcdef")))
	assert.False(t, IsRetryable(NewInvalidTransition("DONE", "PAID")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWithDetailInitializesMap(t *testing.T) {
	err := NewValidation("phone is required").WithDetail("field", "phone")
	assert.Equal(t, "phone", err.Details["field"])
	assert.Equal(t, KindValidation, err.Kind)
}
