package httpapi

import (
	"net/http"
	"strings"
	"time"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyLogins)
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleVariant(w http.ResponseWriter, r *http.Request) {
	variant, err := a.service.GetVariant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

func (a *API) handleVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := a.service.ListVariants(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

// cartKey picks the storefront cart from the session header. POS carts
// always belong to the signed-in user; the header only names a till.
func cartKey(r *http.Request, channel domain.Channel) (cart.Key, error) {
	session := r.Header.Get(sessionHeader)
	if channel == domain.ChannelPOS {
		actor, _ := service.ActorFromContext(r.Context())
		session = service.POSSession(actor.Username, session)
	}
	return service.CartKey(channel, session)
}

func (a *API) viewCart(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	key, err := cartKey(r, channel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	view, err := a.service.ViewCart(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) addToCart(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	key, err := cartKey(r, channel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req domain.CartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.AddToCart(r.Context(), key, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) removeFromCart(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	key, err := cartKey(r, channel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	view, err := a.service.RemoveFromCart(r.Context(), key, r.PathValue("variant_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) clearCart(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	key, err := cartKey(r, channel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.service.ClearCart(r.Context(), key); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePOSCart(w http.ResponseWriter, r *http.Request) {
	a.viewCart(w, r, domain.ChannelPOS)
}

func (a *API) handlePOSCartAdd(w http.ResponseWriter, r *http.Request) {
	a.addToCart(w, r, domain.ChannelPOS)
}

func (a *API) handlePOSCartRemove(w http.ResponseWriter, r *http.Request) {
	a.removeFromCart(w, r, domain.ChannelPOS)
}

func (a *API) handlePOSCartClear(w http.ResponseWriter, r *http.Request) {
	a.clearCart(w, r, domain.ChannelPOS)
}

func (a *API) handleStoreCart(w http.ResponseWriter, r *http.Request) {
	a.viewCart(w, r, domain.ChannelWeb)
}

func (a *API) handleStoreCartAdd(w http.ResponseWriter, r *http.Request) {
	a.addToCart(w, r, domain.ChannelWeb)
}

func (a *API) handleStoreCartRemove(w http.ResponseWriter, r *http.Request) {
	a.removeFromCart(w, r, domain.ChannelWeb)
}

func (a *API) handleStoreCartClear(w http.ResponseWriter, r *http.Request) {
	a.clearCart(w, r, domain.ChannelWeb)
}

func (a *API) handlePOSCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.POSCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CheckoutPOS(r.Context(), r.Header.Get(sessionHeader), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleStoreCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.WebCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CheckoutWeb(r.Context(), r.Header.Get(sessionHeader), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseTimeParam(query.Get("from"), false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, err := parseTimeParam(query.Get("to"), true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		From:          from,
		To:            to,
		PaymentMethod: query.Get("pm"),
		Channel:       domain.Channel(strings.ToLower(strings.TrimSpace(query.Get("channel")))),
		Limit:         parsePositiveLimit(query.Get("limit"), 200, 200),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleStoreOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrderByNumber(r.Context(), r.PathValue("order_no"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if order.Channel != domain.ChannelWeb {
		writeServiceError(w, r, apperror.NewOrderNotFound(r.PathValue("order_no")))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Refund(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.service.UpdateOrderStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentConfirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ConfirmPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func movementFilterFromQuery(r *http.Request) (domain.MovementFilter, error) {
	query := r.URL.Query()
	from, err := parseTimeParam(query.Get("from"), false)
	if err != nil {
		return domain.MovementFilter{}, err
	}
	to, err := parseTimeParam(query.Get("to"), true)
	if err != nil {
		return domain.MovementFilter{}, err
	}

	filter := domain.MovementFilter{
		VariantID: query.Get("variant_id"),
		OrderID:   query.Get("order_id"),
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(query.Get("limit"), 200, 200),
	}
	for _, raw := range query["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, domain.MovementType(t))
			}
		}
	}
	return filter, nil
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	movements, err := a.service.ListMovements(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	balances, err := a.service.StockBalances(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.auth.ListCashiers(r.Context()))
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, cashier)
}
