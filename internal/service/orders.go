package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/checkout"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/store"
	"matchapos/backend/internal/xid"
)

// CheckoutPOS sells the cashier's cart with immediate payment. till picks
// one of the cashier's own carts; empty means the default one.
func (s *Service) CheckoutPOS(ctx context.Context, till string, req domain.POSCheckoutRequest) (domain.CheckoutResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	key, err := CartKey(domain.ChannelPOS, POSSession(actor.Username, till))
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	return s.checkoutCart(ctx, key, checkout.Request{
		Capabilities:  checkout.POS,
		ActorID:       actor.Username,
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Tendered:      req.PaidAmount,
		Discount:      req.Discount,
	})
}

// CheckoutWeb places a storefront order. Stock is reserved now; payment
// is confirmed later.
func (s *Service) CheckoutWeb(ctx context.Context, sessionID string, req domain.WebCheckoutRequest) (domain.CheckoutResponse, error) {
	key, err := CartKey(domain.ChannelWeb, sessionID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	return s.checkoutCart(ctx, key, checkout.Request{
		Capabilities:  checkout.Web,
		CustomerName:  req.CustomerName,
		Phone:         req.Phone,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
	})
}

func (s *Service) checkoutCart(ctx context.Context, key cart.Key, req checkout.Request) (domain.CheckoutResponse, error) {
	items, err := s.carts.Get(ctx, key)
	if err != nil {
		return domain.CheckoutResponse{}, apperror.NewInternal(err)
	}
	req.Cart = items
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.CheckoutResponse{}, err
	}

	var order *domain.Order
	err = s.withRetry(ctx, "checkout_"+string(key.Channel), func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = s.engine.Checkout(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	log := s.log.WithContext(ctx)
	log.Infow("order committed",
		"order_no", order.OrderNo,
		"channel", order.Channel,
		"grand_total", order.GrandTotal.String(),
		"lines", len(order.Items),
	)
	if err := s.carts.Clear(ctx, key); err != nil {
		log.Warnw("failed to clear cart after checkout", "order_no", order.OrderNo, "cart", key.String(), "error", err)
	}

	return toCheckoutResponse(order), nil
}

// Refund reverses a committed order exactly once.
func (s *Service) Refund(ctx context.Context, orderID string) (domain.RefundResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.RefundResponse{}, apperror.NewValidation("order id is required")
	}

	var (
		refunded  *domain.Order
		movements []domain.StockMovement
	)
	err = s.withRetry(ctx, "refund", func(ctx context.Context, tx store.Tx) error {
		var err error
		refunded, movements, err = s.engine.Refund(ctx, tx, orderID, actor.Username)
		return err
	})
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.log.WithContext(ctx).Infow("order refunded",
		"order_no", refunded.OrderNo,
		"by", actor.Username,
		"movements", len(movements),
	)

	return domain.RefundResponse{
		OrderID:    refunded.ID,
		OrderNo:    refunded.OrderNo,
		RefundedAt: refunded.RefundedAt.Format(time.RFC3339),
		Movements:  movements,
	}, nil
}

// ConfirmPayment records a customer's transfer for a web order and marks
// it PAID. Stock was already reserved at checkout and is not touched.
func (s *Service) ConfirmPayment(ctx context.Context, req domain.PaymentConfirmationRequest) (domain.PaymentConfirmationResponse, error) {
	req.OrderNo = strings.TrimSpace(req.OrderNo)
	req.BankName = strings.TrimSpace(req.BankName)
	req.Note = strings.TrimSpace(req.Note)
	if req.OrderNo == "" {
		return domain.PaymentConfirmationResponse{}, apperror.NewValidation("order_no is required").WithDetail("field", "order_no")
	}
	if !req.PaidAmount.IsPositive() {
		return domain.PaymentConfirmationResponse{}, apperror.NewValidation("paid_amount must be greater than zero").WithDetail("field", "paid_amount")
	}
	if err := checkout.ValidateAmount("paid_amount", req.PaidAmount); err != nil {
		return domain.PaymentConfirmationResponse{}, err
	}

	existing, err := s.repo.FindOrderByNumber(ctx, req.OrderNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PaymentConfirmationResponse{}, apperror.NewOrderNotFound(req.OrderNo)
		}
		return domain.PaymentConfirmationResponse{}, translateError(err)
	}

	now := s.now()
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}
	confirmation := domain.PaymentConfirmation{
		ID:         xid.New(),
		OrderID:    existing.ID,
		PaidAmount: req.PaidAmount,
		PaidAt:     paidAt,
		BankName:   req.BankName,
		Note:       req.Note,
		CreatedAt:  now,
	}

	err = s.withRetry(ctx, "confirm_payment", func(ctx context.Context, tx store.Tx) error {
		order, err := s.lockOrder(ctx, tx, existing.ID)
		if err != nil {
			return err
		}
		if order.Channel != domain.ChannelWeb {
			return apperror.NewValidation("payment confirmation applies to web orders only")
		}
		if order.Refunded() || !domain.CanTransition(order.Status, domain.StatusPaid) {
			return apperror.NewInvalidTransition(string(order.Status), string(domain.StatusPaid))
		}
		if err := tx.InsertPaymentConfirmation(ctx, confirmation); err != nil {
			return err
		}
		return tx.UpdateOrderStatus(ctx, order.ID, domain.StatusPaid, now)
	})
	if err != nil {
		return domain.PaymentConfirmationResponse{}, err
	}

	s.log.WithContext(ctx).Infow("payment confirmed",
		"order_no", existing.OrderNo,
		"paid_amount", req.PaidAmount.String(),
		"bank", req.BankName,
	)

	return domain.PaymentConfirmationResponse{
		Confirmation: confirmation,
		OrderNo:      existing.OrderNo,
		Status:       domain.StatusPaid,
	}, nil
}

// UpdateOrderStatus moves a web order along its workflow. Cancelling puts
// the stock back unless the order was already reversed.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, req domain.StatusUpdateRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	switch target {
	case domain.StatusPaid:
		return nil, apperror.NewValidation("orders become PAID through payment confirmation").WithDetail("field", "status")
	case domain.StatusShipping, domain.StatusDone, domain.StatusCancel:
	default:
		return nil, apperror.NewValidation("unknown status").WithDetail("field", "status")
	}

	var updated *domain.Order
	err = s.withRetry(ctx, "update_status", func(ctx context.Context, tx store.Tx) error {
		order, err := s.lockOrder(ctx, tx, strings.TrimSpace(orderID))
		if err != nil {
			return err
		}
		if order.Channel != domain.ChannelWeb {
			return apperror.NewValidation("status workflow applies to web orders only")
		}
		if !domain.CanTransition(order.Status, target) || (order.Refunded() && target != domain.StatusCancel) {
			return apperror.NewInvalidTransition(string(order.Status), string(target))
		}

		now := s.now()
		if target == domain.StatusCancel && !order.Refunded() {
			order, _, err = s.engine.Reverse(ctx, tx, order, actor.Username, "Cancel web order "+order.OrderNo)
			if err != nil {
				return err
			}
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, target, now); err != nil {
			return err
		}
		updated = order.Clone()
		updated.Status = target
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("order status updated",
		"order_no", updated.OrderNo,
		"status", updated.Status,
		"by", actor.Username,
	)
	return updated, nil
}

func (s *Service) lockOrder(ctx context.Context, tx store.Tx, orderID string) (*domain.Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NewOrderNotFound(orderID)
		}
		return nil, err
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NewOrderNotFound(orderID)
		}
		return nil, translateError(err)
	}
	return order, nil
}

func (s *Service) GetOrderByNumber(ctx context.Context, orderNo string) (*domain.Order, error) {
	order, err := s.repo.FindOrderByNumber(ctx, strings.TrimSpace(orderNo))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NewOrderNotFound(orderNo)
		}
		return nil, translateError(err)
	}
	return order, nil
}

// ListOrders returns order history with a summary. Refunded and
// cancelled orders are listed but do not count toward total sales.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.OrderListResponse, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.OrderListResponse{}, apperror.NewValidation("to must not be before from")
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		return domain.OrderListResponse{}, apperror.NewValidation("unknown channel").WithDetail("field", "channel")
	}
	filter.PaymentMethod = strings.ToLower(strings.TrimSpace(filter.PaymentMethod))

	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return domain.OrderListResponse{}, translateError(err)
	}

	summary := domain.OrderSummary{TotalOrders: len(orders), TotalSales: decimal.Zero}
	for _, order := range orders {
		if order.Refunded() || order.Status == domain.StatusCancel {
			continue
		}
		summary.TotalSales = summary.TotalSales.Add(order.GrandTotal)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return domain.OrderListResponse{Orders: orders, Summary: summary}, nil
}

func toCheckoutResponse(order *domain.Order) domain.CheckoutResponse {
	itemCount := 0
	for _, item := range order.Items {
		itemCount += item.Qty
	}

	return domain.CheckoutResponse{
		OrderID:      order.ID,
		OrderNo:      order.OrderNo,
		Channel:      order.Channel,
		Status:       order.Status,
		Subtotal:     order.Subtotal,
		Discount:     order.Discount,
		GrandTotal:   order.GrandTotal,
		PaidAmount:   order.PaidAmount,
		ChangeAmount: order.ChangeAmount,
		ItemCount:    itemCount,
		CreatedAt:    order.CreatedAt.Format(time.RFC3339),
	}
}
