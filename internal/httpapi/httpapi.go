package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/logger"
	"matchapos/backend/internal/service"
)

const sessionHeader = "X-Session-ID"

var errTooManyLogins = errors.New("too many login attempts")

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *clientLimiter
	log           *logger.Logger
}

type Option func(*API)

// WithLoginRate sets how many login attempts a single client may make per
// minute, and how many it may burst.
func WithLoginRate(perMinute int, burst int) Option {
	return func(a *API) {
		a.loginLimiter = newClientLimiter(rate.Limit(float64(perMinute)/60), burst)
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newClientLimiter(rate.Limit(10.0/60), 5),
		log:           logger.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithComponent("http")
	return a
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

const maxTrackedClients = 10000

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, clients: make(map[string]*rate.Limiter)}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			clear(l.clients)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/variants", a.handleVariants)
	mux.HandleFunc("GET /api/v1/variants/{id}", a.handleVariant)

	mux.HandleFunc("GET /api/v1/pos/cart", a.requireAuth(a.handlePOSCart, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/pos/cart/items", a.requireAuth(a.handlePOSCartAdd, "cashier", "admin"))
	mux.HandleFunc("DELETE /api/v1/pos/cart/items/{variant_id}", a.requireAuth(a.handlePOSCartRemove, "cashier", "admin"))
	mux.HandleFunc("DELETE /api/v1/pos/cart", a.requireAuth(a.handlePOSCartClear, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/pos/checkout", a.requireAuth(a.handlePOSCheckout, "cashier", "admin"))

	mux.HandleFunc("GET /api/v1/orders", a.requireAuth(a.handleOrders, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/orders/{id}", a.requireAuth(a.handleOrder, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/orders/{id}/refund", a.requireAuth(a.handleRefund, "admin"))
	mux.HandleFunc("PATCH /api/v1/orders/{id}/status", a.requireAuth(a.handleOrderStatus, "admin"))

	mux.HandleFunc("GET /api/v1/ledger/movements", a.requireAuth(a.handleMovements, "admin"))
	mux.HandleFunc("GET /api/v1/ledger/balances", a.requireAuth(a.handleBalances, "admin"))
	mux.HandleFunc("GET /api/v1/ledger/reconcile", a.requireAuth(a.handleReconcile, "admin"))

	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, "admin"))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, "admin"))

	mux.HandleFunc("GET /api/v1/store/cart", a.handleStoreCart)
	mux.HandleFunc("POST /api/v1/store/cart/items", a.handleStoreCartAdd)
	mux.HandleFunc("DELETE /api/v1/store/cart/items/{variant_id}", a.handleStoreCartRemove)
	mux.HandleFunc("DELETE /api/v1/store/cart", a.handleStoreCartClear)
	mux.HandleFunc("POST /api/v1/store/checkout", a.handleStoreCheckout)
	mux.HandleFunc("GET /api/v1/store/orders/{order_no}", a.handleStoreOrder)
	mux.HandleFunc("POST /api/v1/store/confirm-payment", a.handleConfirmPayment)

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.WithRequestID(r.Context(), requestID)
		ctx = logger.WithLogger(ctx, a.log)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		a.log.WithContext(ctx).Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(startedAt),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates. A plain date
// used as an upper bound covers that whole day.
func parseTimeParam(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperror.NewValidation("dates must be YYYY-MM-DD or RFC 3339")
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return &day, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeServiceError maps service failures onto their HTTP status. Anything
// that is not an AppError is an internal failure and is only logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.NewInternal(err)
	}
	if appErr.HTTPStatus >= 500 {
		logger.Error(r.Context(), "request failed", "code", appErr.Code, "error", err)
	}
	if appErr.Retryable {
		w.Header().Set("Retry-After", "1")
	}

	body := map[string]any{
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if len(appErr.Details) > 0 && appErr.HTTPStatus < 500 {
		body["details"] = appErr.Details
	}
	if appErr.Retryable {
		body["retryable"] = true
	}
	writeJSON(w, appErr.HTTPStatus, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
