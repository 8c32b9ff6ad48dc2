package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/logger"
	"matchapos/backend/internal/service"
	"matchapos/backend/internal/store/memory"
)

const testSecret = "test-secret-0123456789-abcdefghij"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")

	repo := memory.NewSeeded()
	svc := service.New(repo, cart.NewMemoryProvider(time.Hour), service.WithLogger(logger.Nop()))
	auth := NewAuthManager(testSecret, time.Hour, repo)
	return New(svc, auth, "*", WithLogger(logger.Nop())), repo
}

func do(t *testing.T, h http.Handler, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username string, password string) map[string]string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: username, Password: password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return map[string]string{"Authorization": "Bearer " + resp.AccessToken}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func seededID(t *testing.T, repo *memory.Store, sku string) string {
	t.Helper()
	v, ok := repo.VariantBySKU(sku)
	require.True(t, ok)
	return v.ID
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := do(t, api.Handler(), http.MethodGet, "/healthz", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	login(t, h, "admin", "admin123")

	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "admin", Password: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVariantsListIsPublicAndSearchable(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/variants?q=latte", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	variants := decodeBody[[]domain.ProductVariant](t, rec)
	require.Len(t, variants, 3)
	assert.Equal(t, "LAT-HOT-M", variants[0].SKU)
}

func TestPOSCheckoutOverHTTP(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	auth := login(t, h, "cashier", "cashier123")
	m050 := seededID(t, repo, "M050")

	rec := do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: m050, Qty: 2}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[domain.CartView](t, rec)
	assert.Equal(t, "290000", view.Total.String())

	rec = do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 300000}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[domain.CheckoutResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.OrderNo, "ORD"))
	assert.Equal(t, "10000", resp.ChangeAmount.String())

	rec = do(t, h, http.MethodGet, "/api/v1/pos/cart", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[domain.CartView](t, rec).Lines)

	rec = do(t, h, http.MethodGet, "/api/v1/orders/"+resp.OrderID, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeBody[domain.Order](t, rec)
	assert.Equal(t, "cashier", order.CashierID)
	require.Len(t, order.Items, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/orders?channel=pos&to="+time.Now().UTC().Format(time.DateOnly), nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[domain.OrderListResponse](t, rec)
	assert.Equal(t, 1, list.Summary.TotalOrders)
}

func TestPOSCheckoutErrorsCarryCodes(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	auth := login(t, h, "cashier", "cashier123")

	rec := do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash"}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperror.CodeEmptyCart, decodeBody[map[string]any](t, rec)["code"])

	whisk := seededID(t, repo, "WHISK-80")
	rec = do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: whisk, Qty: 1}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 1000}, auth)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperror.CodeInsufficientPayment, decodeBody[map[string]any](t, rec)["code"])

	rec = do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: whisk, Qty: 20}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 99999999}, auth)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, apperror.CodeInsufficientStock, body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, details["lines"], 1)
}

func TestRefundRequiresAdminAndHappensOnce(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")
	admin := login(t, h, "admin", "admin123")
	m100 := seededID(t, repo, "M100")

	do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: m100, Qty: 1}, cashier)
	rec := do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "card", "paid_amount": 275000}, cashier)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.CheckoutResponse](t, rec)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/"+order.OrderID+"/refund", nil, cashier)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/"+order.OrderID+"/refund", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refund := decodeBody[domain.RefundResponse](t, rec)
	assert.Len(t, refund.Movements, 1)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/"+order.OrderID+"/refund", nil, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.CodeAlreadyRefunded, decodeBody[map[string]any](t, rec)["code"])

	rec = do(t, h, http.MethodPost, "/api/v1/orders/missing/refund", nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStorefrontFlow(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	session := map[string]string{sessionHeader: "browser-42"}
	m050 := seededID(t, repo, "M050")

	rec := do(t, h, http.MethodGet, "/api/v1/store/cart", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/store/cart/items", domain.CartItemRequest{VariantID: m050, Qty: 3}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodDelete, "/api/v1/store/cart/items/"+m050, nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[domain.CartView](t, rec).Lines[0].Qty)

	rec = do(t, h, http.MethodPost, "/api/v1/store/checkout", domain.WebCheckoutRequest{
		CustomerName: "Bee", Phone: "020 1234", Address: "Luang Prabang", PaymentMethod: "transfer",
	}, session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decodeBody[domain.CheckoutResponse](t, rec)
	assert.Equal(t, domain.StatusWaitingPayment, placed.Status)
	assert.True(t, strings.HasPrefix(placed.OrderNo, "WEB"))

	rec = do(t, h, http.MethodGet, "/api/v1/store/orders/"+placed.OrderNo, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/store/confirm-payment", map[string]any{
		"order_no": placed.OrderNo, "paid_amount": 290000, "bank_name": "BCEL", "note": "slip 889",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusPaid, decodeBody[domain.PaymentConfirmationResponse](t, rec).Status)

	admin := login(t, h, "admin", "admin123")
	rec = do(t, h, http.MethodPatch, "/api/v1/orders/"+placed.OrderID+"/status", domain.StatusUpdateRequest{Status: domain.StatusShipping}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusShipping, decodeBody[domain.Order](t, rec).Status)

	rec = do(t, h, http.MethodPatch, "/api/v1/orders/"+placed.OrderID+"/status", domain.StatusUpdateRequest{Status: domain.StatusCancel}, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStorefrontCannotReadPOSOrders(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")

	do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: seededID(t, repo, "LAT-ICE-L"), Qty: 1}, cashier)
	rec := do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 42000}, cashier)
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decodeBody[domain.CheckoutResponse](t, rec)

	rec = do(t, h, http.MethodGet, "/api/v1/store/orders/"+order.OrderNo, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerEndpointsAreAdminOnly(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")
	admin := login(t, h, "admin", "admin123")
	hot := seededID(t, repo, "LAT-HOT-M")

	do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: hot, Qty: 4}, cashier)
	rec := do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 140000}, cashier)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/ledger/reconcile", nil, cashier)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/ledger/reconcile", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[domain.ReconciliationReport](t, rec).Consistent)

	rec = do(t, h, http.MethodGet, "/api/v1/ledger/movements?type=out&variant_id="+hot, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decodeBody[[]domain.StockMovement](t, rec)
	require.Len(t, movements, 1)
	assert.Equal(t, 4, movements[0].Qty)

	rec = do(t, h, http.MethodGet, "/api/v1/ledger/balances?variant_id="+hot, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody[[]domain.StockBalance](t, rec)
	require.Len(t, balances, 1)
	assert.Equal(t, 196, balances[0].Net)

	rec = do(t, h, http.MethodGet, "/api/v1/ledger/movements?type=GIFT", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/ledger/movements?from=yesterday", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCashierManagement(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	admin := login(t, h, "admin", "admin123")

	rec := do(t, h, http.MethodPost, "/api/v1/users/cashiers", domain.CashierCreateRequest{Username: "till02", Password: "s3cret!"}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	login(t, h, "till02", "s3cret!")

	rec = do(t, h, http.MethodGet, "/api/v1/users/cashiers", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.CashierUser](t, rec), 2)
}

func TestWriteServiceErrorMapsConflictsAndHidesInternals(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	writeServiceError(rec, req, apperror.NewSerializationConflict(errors.New("40001")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["retryable"])

	rec = httptest.NewRecorder()
	writeServiceError(rec, req, errors.New("pq: relation orders does not exist"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, apperror.CodeInternal, body["code"])
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("2026-03-12", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseTimeParam("2026-03-12T08:30:00+07:00", true)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 12, 1, 30, 0, 0, time.UTC)))

	got, err = parseTimeParam("", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseTimeParam("12/03/2026", false)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestVariantDetail(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	m100 := seededID(t, repo, "M100")

	rec := do(t, h, http.MethodGet, "/api/v1/variants/"+m100, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[domain.ProductVariant](t, rec)
	assert.Equal(t, "M100", v.SKU)
	assert.Equal(t, "275000", v.SellPrice.String())

	rec = do(t, h, http.MethodGet, "/api/v1/variants/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperror.CodeVariantNotFound, decodeBody[map[string]any](t, rec)["code"])
}

func TestPOSCartCannotBeReachedFromAnotherAccount(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	admin := login(t, h, "admin", "admin123")
	m050 := seededID(t, repo, "M050")

	rec := do(t, h, http.MethodPost, "/api/v1/users/cashiers", domain.CashierCreateRequest{Username: "till02", Password: "s3cret!"}, admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	owner := login(t, h, "cashier", "cashier123")
	other := login(t, h, "till02", "s3cret!")

	rec = do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: m050, Qty: 2}, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	other[sessionHeader] = "cashier"
	rec = do(t, h, http.MethodGet, "/api/v1/pos/cart", nil, other)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[domain.CartView](t, rec).Lines)

	rec = do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 290000}, other)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperror.CodeEmptyCart, decodeBody[map[string]any](t, rec)["code"])

	rec = do(t, h, http.MethodGet, "/api/v1/pos/cart", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[domain.CartView](t, rec).Lines[0].Qty)
}

func TestPOSTillsKeepSeparateCarts(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	auth := login(t, h, "cashier", "cashier123")
	till2 := map[string]string{"Authorization": auth["Authorization"], sessionHeader: "till-2"}

	rec := do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: seededID(t, repo, "LAT-HOT-M"), Qty: 1}, till2)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/pos/cart", nil, auth)
	assert.Empty(t, decodeBody[domain.CartView](t, rec).Lines)

	rec = do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 35000}, till2)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCartLineCapAndSubCentAmountsAreBadRequests(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	auth := login(t, h, "cashier", "cashier123")
	whisk := seededID(t, repo, "WHISK-80")

	rec := do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: whisk, Qty: domain.MaxLineQty + 1}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/pos/cart/items", domain.CartItemRequest{VariantID: whisk, Qty: 1}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/pos/checkout", map[string]any{"payment_method": "cash", "paid_amount": 120000, "discount": "0.005"}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperror.CodeValidation, decodeBody[map[string]any](t, rec)["code"])
}
