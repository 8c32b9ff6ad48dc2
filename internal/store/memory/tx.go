package memory

import (
	"context"
	"fmt"
	"time"

	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/store"
)

type statusChange struct {
	status domain.OrderStatus
	at     time.Time
}

// memTx stages every write and applies them under the store mutex on
// commit. Locks are held from acquisition until commit or rollback.
type memTx struct {
	s    *Store
	held map[string]struct{}

	holdsVariant   bool
	highestVariant string
	holdsOrder     bool

	stock         map[string]int
	orders        map[string]domain.Order
	orderSeq      []string
	movements     []domain.StockMovement
	refunded      map[string]time.Time
	statuses      map[string]statusChange
	confirmations []domain.PaymentConfirmation
	closed        bool
}

var _ store.Tx = (*memTx)(nil)

func newTx(s *Store) *memTx {
	return &memTx{
		s:        s,
		held:     make(map[string]struct{}),
		stock:    make(map[string]int),
		orders:   make(map[string]domain.Order),
		refunded: make(map[string]time.Time),
		statuses: make(map[string]statusChange),
	}
}

func variantKey(id string) string { return "variant:" + id }

func orderKey(id string) string { return "order:" + id }

func (t *memTx) holds(key string) bool {
	_, ok := t.held[key]
	return ok
}

// lock waits for key unless waiting could form a cycle with another
// transaction, in which case it only tries once.
func (t *memTx) lock(ctx context.Context, key string, mayWait bool) error {
	if t.closed {
		return fmt.Errorf("%w: transaction closed", store.ErrInvalidInput)
	}
	if t.holds(key) {
		return nil
	}
	if !mayWait {
		if !t.s.locks.tryAcquire(key) {
			return fmt.Errorf("%w: %s is locked and cannot be awaited out of order", store.ErrSerializationConflict, key)
		}
		t.held[key] = struct{}{}
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, t.s.lockTimeout)
	defer cancel()
	if err := t.s.locks.acquire(lockCtx, key); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s not granted within %s", store.ErrSerializationConflict, key, t.s.lockTimeout)
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *memTx) LockVariants(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	for _, id := range store.UniqueIDs(ids) {
		mayWait := !t.holdsVariant || id > t.highestVariant
		if err := t.lock(ctx, variantKey(id), mayWait); err != nil {
			return nil, err
		}
		if !t.holdsVariant || id > t.highestVariant {
			t.highestVariant = id
			t.holdsVariant = true
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make(map[string]domain.ProductVariant, len(ids))
	for _, id := range ids {
		v, ok := t.s.variants[id]
		if !ok {
			continue
		}
		if qty, staged := t.stock[id]; staged {
			v.StockQty = qty
		}
		out[id] = v
	}
	return out, nil
}

func (t *memTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := t.lock(ctx, orderKey(id), !t.holdsVariant && !t.holdsOrder); err != nil {
		return nil, err
	}
	t.holdsOrder = true

	order, err := t.readOrder(id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (t *memTx) readOrder(id string) (*domain.Order, error) {
	var order *domain.Order
	if staged, ok := t.orders[id]; ok {
		order = staged.Clone()
	} else {
		t.s.mu.RLock()
		committed, ok := t.s.ordersByID[id]
		if ok {
			order = committed.Clone()
		}
		t.s.mu.RUnlock()
	}
	if order == nil {
		return nil, store.ErrNotFound
	}
	if at, ok := t.refunded[id]; ok {
		order.RefundedAt = &at
		order.UpdatedAt = at
	}
	if change, ok := t.statuses[id]; ok {
		order.Status = change.status
		order.UpdatedAt = change.at
	}
	return order, nil
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	if t.closed {
		return fmt.Errorf("%w: transaction closed", store.ErrInvalidInput)
	}
	if err := validateOrder(order); err != nil {
		return err
	}
	if _, dup := t.orders[order.ID]; dup {
		return fmt.Errorf("%w: duplicate order id %s", store.ErrInvalidInput, order.ID)
	}
	for _, staged := range t.orders {
		if staged.OrderNo == order.OrderNo {
			return fmt.Errorf("%w: order number %s already used", store.ErrSerializationConflict, order.OrderNo)
		}
	}

	t.s.mu.RLock()
	_, idTaken := t.s.ordersByID[order.ID]
	_, noTaken := t.s.orderIDByNo[order.OrderNo]
	t.s.mu.RUnlock()
	if idTaken {
		return fmt.Errorf("%w: duplicate order id %s", store.ErrInvalidInput, order.ID)
	}
	if noTaken {
		return fmt.Errorf("%w: order number %s already used", store.ErrSerializationConflict, order.OrderNo)
	}

	t.orders[order.ID] = *order.Clone()
	t.orderSeq = append(t.orderSeq, order.ID)
	return nil
}

func (t *memTx) AdjustStock(_ context.Context, variantID string, delta int) (int, error) {
	if !t.holds(variantKey(variantID)) {
		return 0, fmt.Errorf("%w: variant %s is not locked", store.ErrInvalidInput, variantID)
	}
	current, staged := t.stock[variantID]
	if !staged {
		t.s.mu.RLock()
		v, ok := t.s.variants[variantID]
		t.s.mu.RUnlock()
		if !ok {
			return 0, store.ErrNotFound
		}
		current = v.StockQty
	}
	next := current + delta
	if next < 0 {
		return current, store.ErrInsufficientStock
	}
	t.stock[variantID] = next
	return next, nil
}

func (t *memTx) AppendMovement(_ context.Context, movement domain.StockMovement) error {
	if !movement.MovementType.Valid() || movement.Qty < 1 || movement.ID == "" {
		return fmt.Errorf("%w: malformed stock movement", store.ErrInvalidInput)
	}
	t.s.mu.RLock()
	_, ok := t.s.variants[movement.VariantID]
	t.s.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	t.movements = append(t.movements, movement)
	return nil
}

func (t *memTx) MarkRefunded(_ context.Context, orderID string, at time.Time) error {
	if err := t.requireOrderLock(orderID); err != nil {
		return err
	}
	order, err := t.readOrder(orderID)
	if err != nil {
		return err
	}
	if order.Refunded() {
		return store.ErrAlreadyRefunded
	}
	t.refunded[orderID] = at.UTC()
	return nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	if err := t.requireOrderLock(orderID); err != nil {
		return err
	}
	if _, err := t.readOrder(orderID); err != nil {
		return err
	}
	t.statuses[orderID] = statusChange{status: status, at: at.UTC()}
	return nil
}

func (t *memTx) InsertPaymentConfirmation(_ context.Context, confirmation domain.PaymentConfirmation) error {
	if confirmation.ID == "" || !confirmation.PaidAmount.IsPositive() {
		return fmt.Errorf("%w: malformed payment confirmation", store.ErrInvalidInput)
	}
	if _, err := t.readOrder(confirmation.OrderID); err != nil {
		return err
	}
	if confirmation.CreatedAt.IsZero() {
		confirmation.CreatedAt = time.Now().UTC()
	}
	t.confirmations = append(t.confirmations, confirmation)
	return nil
}

func (t *memTx) requireOrderLock(orderID string) error {
	if _, staged := t.orders[orderID]; staged {
		return nil
	}
	if !t.holds(orderKey(orderID)) {
		return fmt.Errorf("%w: order %s is not locked", store.ErrInvalidInput, orderID)
	}
	return nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.orderSeq {
		if _, taken := s.orderIDByNo[t.orders[id].OrderNo]; taken {
			return fmt.Errorf("%w: order number %s already used", store.ErrSerializationConflict, t.orders[id].OrderNo)
		}
	}

	for id, qty := range t.stock {
		v := s.variants[id]
		v.StockQty = qty
		s.variants[id] = v
	}
	for _, id := range t.orderSeq {
		order := t.orders[id]
		s.ordersByID[id] = &order
		s.orderIDByNo[order.OrderNo] = id
		s.orderSeq = append(s.orderSeq, id)
	}
	for id, at := range t.refunded {
		refundedAt := at
		s.ordersByID[id].RefundedAt = &refundedAt
		s.ordersByID[id].UpdatedAt = at
	}
	for id, change := range t.statuses {
		s.ordersByID[id].Status = change.status
		s.ordersByID[id].UpdatedAt = change.at
	}
	s.movements = append(s.movements, t.movements...)
	for _, c := range t.confirmations {
		s.confirmations[c.OrderID] = append(s.confirmations[c.OrderID], c)
	}
	return nil
}

func (t *memTx) close() {
	if t.closed {
		return
	}
	t.closed = true
	for key := range t.held {
		t.s.locks.release(key)
	}
	t.held = nil
}

func validateOrder(order domain.Order) error {
	if order.ID == "" || order.OrderNo == "" || len(order.Items) == 0 || !order.Channel.Valid() {
		return fmt.Errorf("%w: incomplete order", store.ErrInvalidInput)
	}
	if order.Discount.IsNegative() || order.Discount.GreaterThan(order.Subtotal) {
		return fmt.Errorf("%w: discount outside [0, subtotal]", store.ErrInvalidInput)
	}
	if !order.GrandTotal.Equal(order.Subtotal.Sub(order.Discount)) {
		return fmt.Errorf("%w: grand total does not match subtotal minus discount", store.ErrInvalidInput)
	}
	for _, item := range order.Items {
		if item.Qty < 1 || !item.LineTotal.Equal(item.UnitPrice.Mul(decimalFromInt(item.Qty))) {
			return fmt.Errorf("%w: malformed order item %s", store.ErrInvalidInput, item.VariantID)
		}
	}
	return nil
}
