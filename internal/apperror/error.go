// Package apperror classifies the errors surfaced by checkout, refund and
// order operations so callers can tell user-correctable failures from
// retryable lock conflicts.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindStock      Kind = "stock"
	KindPayment    Kind = "payment"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeEmptyCart           = "EMPTY_CART"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeInsufficientPayment = "INSUFFICIENT_PAYMENT"
	CodeSerialization       = "SERIALIZATION_CONFLICT"
	CodeAlreadyRefunded     = "ORDER_ALREADY_REFUNDED"
	CodeInvalidTransition   = "INVALID_STATUS_TRANSITION"
	CodeVariantNotFound     = "VARIANT_NOT_FOUND"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeInternal            = "INTERNAL_ERROR"
)

type AppError struct {
	Kind       Kind           `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Retryable  bool           `json:"retryable,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// StockShortage is the per-line detail of an insufficient-stock failure.
type StockShortage struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func NewValidation(message string) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

func NewEmptyCart() *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       CodeEmptyCart,
		Message:    "cart is empty",
		HTTPStatus: http.StatusBadRequest,
	}
}

func NewInsufficientStock(shortages []StockShortage) *AppError {
	msg := "insufficient stock"
	if len(shortages) == 1 {
		s := shortages[0]
		msg = fmt.Sprintf("insufficient stock for %s (available %d, requested %d)", s.SKU, s.Available, s.Requested)
	}
	return &AppError{
		Kind:       KindStock,
		Code:       CodeInsufficientStock,
		Message:    msg,
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"lines": shortages},
	}
}

func NewInsufficientPayment(tendered string, total string) *AppError {
	return &AppError{
		Kind:       KindPayment,
		Code:       CodeInsufficientPayment,
		Message:    "paid amount must be greater than or equal to the grand total",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"paid_amount": tendered, "grand_total": total},
	}
}

// NewSerializationConflict marks lock contention; the whole operation was
// rolled back and may be retried as-is.
func NewSerializationConflict(err error) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Code:       CodeSerialization,
		Message:    "concurrent update detected, retry the request",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Err:        err,
	}
}

func NewAlreadyRefunded(orderNo string) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Code:       CodeAlreadyRefunded,
		Message:    fmt.Sprintf("order %s was already refunded", orderNo),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"order_no": orderNo},
	}
}

func NewInvalidTransition(from string, to string) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("cannot move order from %s to %s", from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"from": from, "to": to},
	}
}

func NewVariantNotFound(variantID string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Code:       CodeVariantNotFound,
		Message:    fmt.Sprintf("variant %s not found", variantID),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"variant_id": variantID},
	}
}

func NewOrderNotFound(ref string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Code:       CodeOrderNotFound,
		Message:    fmt.Sprintf("order %s not found", ref),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"order": ref},
	}
}

// NewInternal hides the cause from clients.
func NewInternal(err error) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}
