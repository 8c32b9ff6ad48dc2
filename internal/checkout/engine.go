// Package checkout turns a cart into an order and reverses orders, always
// inside a caller-supplied store transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/ledger"
	"matchapos/backend/internal/store"
	"matchapos/backend/internal/xid"
)

var tracer = otel.Tracer("matchapos/checkout")

type Engine struct {
	now         func() time.Time
	newID       func() string
	orderNumber func(prefix string, at time.Time) string
}

func NewEngine() *Engine {
	return &Engine{
		now:         func() time.Time { return time.Now().UTC() },
		newID:       xid.New,
		orderNumber: xid.OrderNumber,
	}
}

// WithClock replaces the time source; used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Checkout locks every variant in the cart, prices and validates the whole
// cart, then writes the order, its items, the stock decrements and one OUT
// movement per item. Any error leaves tx to be rolled back by the caller.
func (e *Engine) Checkout(ctx context.Context, tx store.Tx, req Request) (*domain.Order, error) {
	req = req.Normalize()
	ctx, span := tracer.Start(ctx, "checkout",
		trace.WithAttributes(
			attribute.String("checkout.channel", string(req.Capabilities.Channel)),
			attribute.Int("checkout.lines", len(req.Cart)),
		))
	defer span.End()

	order, err := e.checkout(ctx, tx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("checkout.order_no", order.OrderNo))
	return order, nil
}

func (e *Engine) checkout(ctx context.Context, tx store.Tx, req Request) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	caps := req.Capabilities

	ids := store.UniqueIDs(req.Cart.VariantIDs())
	locked, err := tx.LockVariants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		variant, ok := locked[id]
		if !ok || !variant.IsActive {
			return nil, apperror.NewVariantNotFound(id)
		}
		items = append(items, PriceLine(variant, req.Cart[id]))
	}

	totals := ComputeTotals(items, req.Discount)

	paid := decimal.Zero
	change := decimal.Zero
	if caps.RequiresImmediatePayment {
		if req.Tendered.LessThan(totals.GrandTotal) {
			return nil, apperror.NewInsufficientPayment(req.Tendered.StringFixed(2), totals.GrandTotal.StringFixed(2))
		}
		paid = req.Tendered
		change = req.Tendered.Sub(totals.GrandTotal)
	}

	var shortages []apperror.StockShortage
	for _, item := range items {
		available := locked[item.VariantID].StockQty
		if available < item.Qty {
			shortages = append(shortages, apperror.StockShortage{
				VariantID: item.VariantID,
				SKU:       item.SKU,
				Available: available,
				Requested: item.Qty,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, apperror.NewInsufficientStock(shortages)
	}

	now := e.now()
	order := domain.Order{
		ID:            e.newID(),
		Channel:       caps.Channel,
		OrderNo:       e.orderNumber(caps.OrderPrefix, now),
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		Phone:         req.Phone,
		Address:       req.Address,
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		GrandTotal:    totals.GrandTotal,
		PaymentMethod: req.PaymentMethod,
		PaidAmount:    paid,
		ChangeAmount:  change,
		Status:        caps.InitialStatus(req.PaymentMethod),
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
	}
	if caps.HasCashier {
		order.CashierID = req.ActorID
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}

	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, movement := range ledger.OutMovements(order, req.ActorID, e.newID) {
		if _, err := tx.AdjustStock(ctx, movement.VariantID, -movement.Qty); err != nil {
			return nil, e.stockError(err, locked[movement.VariantID], movement.Qty)
		}
		if err := tx.AppendMovement(ctx, movement); err != nil {
			return nil, fmt.Errorf("append movement: %w", err)
		}
	}

	return &order, nil
}

// Refund locks the order and reverses it.
func (e *Engine) Refund(ctx context.Context, tx store.Tx, orderID string, actorID string) (*domain.Order, []domain.StockMovement, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperror.NewOrderNotFound(orderID)
		}
		return nil, nil, fmt.Errorf("lock order: %w", err)
	}
	return e.Reverse(ctx, tx, order, actorID, "Refund Order "+order.OrderNo)
}

// Reverse puts every item of an already locked order back into stock with
// one IN movement each, and stamps the order as refunded. An order can be
// reversed once.
func (e *Engine) Reverse(ctx context.Context, tx store.Tx, order *domain.Order, actorID string, reason string) (*domain.Order, []domain.StockMovement, error) {
	ctx, span := tracer.Start(ctx, "reverse",
		trace.WithAttributes(
			attribute.String("order.no", order.OrderNo),
			attribute.Int("order.items", len(order.Items)),
		))
	defer span.End()

	if order.Refunded() {
		return nil, nil, apperror.NewAlreadyRefunded(order.OrderNo)
	}

	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.VariantID)
	}
	locked, err := tx.LockVariants(ctx, store.UniqueIDs(ids))
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("lock variants: %w", err)
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, nil, apperror.NewVariantNotFound(id)
		}
	}

	at := e.now()
	if err := tx.MarkRefunded(ctx, order.ID, at); err != nil {
		if errors.Is(err, store.ErrAlreadyRefunded) {
			return nil, nil, apperror.NewAlreadyRefunded(order.OrderNo)
		}
		return nil, nil, fmt.Errorf("mark refunded: %w", err)
	}

	movements := ledger.InMovements(*order, actorID, reason, at, e.newID)
	for _, movement := range movements {
		if _, err := tx.AdjustStock(ctx, movement.VariantID, movement.Qty); err != nil {
			return nil, nil, fmt.Errorf("restock %s: %w", movement.VariantID, err)
		}
		if err := tx.AppendMovement(ctx, movement); err != nil {
			return nil, nil, fmt.Errorf("append movement: %w", err)
		}
	}

	reversed := order.Clone()
	reversed.RefundedAt = &at
	reversed.UpdatedAt = at
	return reversed, movements, nil
}

func (e *Engine) stockError(err error, variant domain.ProductVariant, qty int) error {
	if errors.Is(err, store.ErrInsufficientStock) {
		return apperror.NewInsufficientStock([]apperror.StockShortage{{
			VariantID: variant.ID,
			SKU:       variant.SKU,
			Available: variant.StockQty,
			Requested: qty,
		}})
	}
	return fmt.Errorf("decrement stock: %w", err)
}
