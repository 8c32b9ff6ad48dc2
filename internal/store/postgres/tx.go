package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/store"
)

var tracer = otel.Tracer("matchapos/store/postgres")

// WithinTx runs fn in a serializable transaction with a bounded lock wait.
// Lock timeouts, deadlocks and serialization failures come back as
// store.ErrSerializationConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.isolation", sql.LevelSerializable.String()),
		))
	defer span.End()

	err := s.runTx(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgTx{s: s, tx: sqlTx}); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

type pgTx struct {
	s  *Store
	tx *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

// LockVariants locks the whole set in one statement, in id order, so two
// transactions with overlapping carts queue instead of deadlocking.
func (t *pgTx) LockVariants(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	ids = store.UniqueIDs(ids)
	out := make(map[string]domain.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var variants []domain.ProductVariant
	err := sqlscan.Select(ctx, t.tx, &variants, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, classify(err)
	}
	for _, v := range variants {
		out[v.ID] = v
	}
	return out, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := t.s.findOrder(ctx, t.tx, "id", id, true)
	if err != nil {
		return nil, classify(err)
	}
	return order, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" || order.OrderNo == "" || len(order.Items) == 0 {
		return fmt.Errorf("%w: incomplete order", store.ErrInvalidInput)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, channel, order_no, cashier_id, customer_id, customer_name, phone, address,
			subtotal, discount, grand_total, payment_method, paid_amount, change_amount,
			status, refunded_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULL,$16,$17)
	`, order.ID, string(order.Channel), order.OrderNo, nullIfEmpty(order.CashierID),
		nullIfEmpty(order.CustomerID), nullIfEmpty(order.CustomerName), nullIfEmpty(order.Phone),
		nullIfEmpty(order.Address), order.Subtotal, order.Discount, order.GrandTotal,
		order.PaymentMethod, order.PaidAmount, order.ChangeAmount, nullIfEmpty(string(order.Status)),
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("insert order: %w", err))
	}

	q := t.s.builder.Insert("order_items").
		Columns("order_id", "variant_id", "sku", "qty", "unit_price", "line_total")
	for _, item := range order.Items {
		q = q.Values(order.ID, item.VariantID, item.SKU, item.Qty, item.UnitPrice, item.LineTotal)
	}
	stmt, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build item insert: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return classify(fmt.Errorf("insert order items: %w", err))
	}
	return nil
}

func (t *pgTx) AdjustStock(ctx context.Context, variantID string, delta int) (int, error) {
	var qty int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE product_variants
		SET stock_qty = stock_qty + $2
		WHERE id = $1 AND stock_qty + $2 >= 0
		RETURNING stock_qty
	`, variantID, delta).Scan(&qty)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classify(err)
	}

	var current int
	err = t.tx.QueryRowContext(ctx, `SELECT stock_qty FROM product_variants WHERE id = $1`, variantID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, classify(err)
	}
	return current, store.ErrInsufficientStock
}

func (t *pgTx) AppendMovement(ctx context.Context, movement domain.StockMovement) error {
	if !movement.MovementType.Valid() || movement.Qty < 1 || movement.ID == "" {
		return fmt.Errorf("%w: malformed stock movement", store.ErrInvalidInput)
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	stmt, args, err := t.s.builder.Insert("stock_movements").
		Columns("id", "variant_id", "movement_type", "qty", "reason", "order_id", "actor_id", "created_at").
		Values(movement.ID, movement.VariantID, string(movement.MovementType), movement.Qty, movement.Reason,
			nullIfEmpty(movement.OrderID), nullIfEmpty(movement.ActorID), movement.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build movement insert: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return classify(fmt.Errorf("append movement: %w", err))
	}
	return nil
}

func (t *pgTx) MarkRefunded(ctx context.Context, orderID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET refunded_at = $2, updated_at = $2
		WHERE id = $1 AND refunded_at IS NULL
	`, orderID, at)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if err := t.orderExists(ctx, orderID); err != nil {
		return err
	}
	return store.ErrAlreadyRefunded
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	stmt, args, err := t.s.builder.Update("orders").
		Set("status", string(status)).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertPaymentConfirmation(ctx context.Context, c domain.PaymentConfirmation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_confirmations (id, order_id, paid_amount, paid_at, bank_name, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.OrderID, c.PaidAmount, c.PaidAt, c.BankName, c.Note, c.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("insert payment confirmation: %w", err))
	}
	return nil
}

func (t *pgTx) orderExists(ctx context.Context, orderID string) error {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
