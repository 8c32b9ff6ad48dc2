package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/store"
	"matchapos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const (
	variantColumns = `id, product_name, sku, display_name, unit, price, sell_price,
		stock_qty, reorder_level, is_active, created_at`
	orderColumns = `id, channel, order_no,
		COALESCE(cashier_id, '') AS cashier_id, COALESCE(customer_id, '') AS customer_id,
		COALESCE(customer_name, '') AS customer_name, COALESCE(phone, '') AS phone,
		COALESCE(address, '') AS address, subtotal, discount, grand_total, payment_method,
		paid_amount, change_amount, COALESCE(status, '') AS status, refunded_at, created_at, updated_at`
	itemColumns     = `id, order_id, variant_id, sku, qty, unit_price, line_total`
	movementColumns = `id, variant_id, movement_type, qty, reason,
		COALESCE(order_id, '') AS order_id, COALESCE(actor_id, '') AS actor_id, created_at`
	confirmationColumns = `id, order_id, paid_amount, paid_at, bank_name, note, created_at`
)

type Store struct {
	db          *sql.DB
	builder     squirrel.StatementBuilderType
	lockTimeout time.Duration
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:          db,
		builder:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		lockTimeout: 3 * time.Second,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetLockTimeout is applied as SET LOCAL lock_timeout on every transaction.
func (s *Store) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// AddVariant inserts a catalog row together with its opening ADJUST
// movement, so the ledger reconciles with stock_qty.
func (s *Store) AddVariant(ctx context.Context, v domain.ProductVariant) (domain.ProductVariant, error) {
	v.SKU = strings.TrimSpace(v.SKU)
	if v.SKU == "" || v.StockQty < 0 {
		return domain.ProductVariant{}, store.ErrInvalidInput
	}
	if v.ID == "" {
		v.ID = xid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductVariant{}, err
	}
	defer func() { _ = sqlTx.Rollback() }()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO product_variants (
			id, product_name, sku, display_name, unit, price, sell_price,
			stock_qty, reorder_level, is_active, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, v.ID, v.ProductName, v.SKU, v.DisplayName, v.Unit, v.Price, v.SellPrice,
		v.StockQty, v.ReorderLevel, v.IsActive, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ProductVariant{}, fmt.Errorf("%w: sku %s exists", store.ErrInvalidInput, v.SKU)
		}
		return domain.ProductVariant{}, err
	}
	if v.StockQty > 0 {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, variant_id, movement_type, qty, reason, created_at)
			VALUES ($1,$2,'ADJUST',$3,'Opening balance',$4)
		`, xid.New(), v.ID, v.StockQty, v.CreatedAt)
		if err != nil {
			return domain.ProductVariant{}, err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return domain.ProductVariant{}, err
	}
	return v, nil
}

func (s *Store) ListVariants(ctx context.Context, query string) ([]domain.ProductVariant, error) {
	q := s.builder.Select(variantColumns).From("product_variants").OrderBy("sku")
	if term := strings.TrimSpace(query); term != "" {
		pattern := "%" + term + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"sku": pattern},
			squirrel.ILike{"display_name": pattern},
			squirrel.ILike{"product_name": pattern},
		})
	}
	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build variant query: %w", err)
	}

	variants := make([]domain.ProductVariant, 0, 64)
	if err := sqlscan.Select(ctx, s.db, &variants, stmt, args...); err != nil {
		return nil, err
	}
	return variants, nil
}

func (s *Store) GetVariant(ctx context.Context, id string) (*domain.ProductVariant, error) {
	var v domain.ProductVariant
	err := sqlscan.Get(ctx, s.db, &v, `SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetVariantsByIDs(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	ids = store.UniqueIDs(ids)
	out := make(map[string]domain.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var variants []domain.ProductVariant
	err := sqlscan.Select(ctx, s.db, &variants, `SELECT `+variantColumns+` FROM product_variants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		out[v.ID] = v
	}
	return out, nil
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.findOrder(ctx, s.db, "id", id, false)
}

func (s *Store) FindOrderByNumber(ctx context.Context, orderNo string) (*domain.Order, error) {
	return s.findOrder(ctx, s.db, "order_no", strings.TrimSpace(orderNo), false)
}

func (s *Store) findOrder(ctx context.Context, q sqlscan.Querier, column string, value string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var order domain.Order
	if err := sqlscan.Get(ctx, q, &order, query, value); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

func (s *Store) loadItems(ctx context.Context, q sqlscan.Querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	query, args, err := s.builder.Select(itemColumns).
		From("order_items").
		Where(squirrel.Eq{"order_id": orderIDs}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	var items []domain.OrderItem
	if err := sqlscan.Select(ctx, q, &items, query, args...); err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	q := s.builder.Select(orderColumns).
		From("orders").
		OrderBy("created_at DESC", "order_no DESC").
		Limit(uint64(clampLimit(filter.Limit)))
	if filter.Channel != "" {
		q = q.Where(squirrel.Eq{"channel": string(filter.Channel)})
	}
	if filter.PaymentMethod != "" {
		q = q.Where(squirrel.Eq{"payment_method": filter.PaymentMethod})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.Lt{"created_at": *filter.To})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build order query: %w", err)
	}

	orders := make([]domain.Order, 0, 32)
	if err := sqlscan.Select(ctx, s.db, &orders, query, args...); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := s.loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) movementFilter(q squirrel.SelectBuilder, filter domain.MovementFilter) squirrel.SelectBuilder {
	if filter.VariantID != "" {
		q = q.Where(squirrel.Eq{"variant_id": filter.VariantID})
	}
	if filter.OrderID != "" {
		q = q.Where(squirrel.Eq{"order_id": filter.OrderID})
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		q = q.Where(squirrel.Eq{"movement_type": types})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.Lt{"created_at": *filter.To})
	}
	return q
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	q := s.builder.Select(movementColumns).
		From("stock_movements").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(clampLimit(filter.Limit)))
	query, args, err := s.movementFilter(q, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build movement query: %w", err)
	}

	movements := make([]domain.StockMovement, 0, 64)
	if err := sqlscan.Select(ctx, s.db, &movements, query, args...); err != nil {
		return nil, err
	}
	return movements, nil
}

// SumMovements computes per-variant IN/OUT/ADJUST totals in SQL. The net
// uses the same sign rule as the ledger package.
func (s *Store) SumMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockBalance, error) {
	q := s.builder.Select(
		"variant_id",
		"COALESCE(SUM(qty) FILTER (WHERE movement_type = 'IN'), 0) AS qty_in",
		"COALESCE(SUM(qty) FILTER (WHERE movement_type = 'OUT'), 0) AS qty_out",
		"COALESCE(SUM(qty) FILTER (WHERE movement_type = 'ADJUST'), 0) AS qty_adjust",
		"COALESCE(SUM(CASE WHEN movement_type = 'OUT' THEN -qty ELSE qty END), 0) AS net",
	).From("stock_movements").GroupBy("variant_id").OrderBy("variant_id")
	query, args, err := s.movementFilter(q, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build balance query: %w", err)
	}

	balances := make([]domain.StockBalance, 0, 64)
	if err := sqlscan.Select(ctx, s.db, &balances, query, args...); err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Store) ListPaymentConfirmations(ctx context.Context, orderID string) ([]domain.PaymentConfirmation, error) {
	var confirmations []domain.PaymentConfirmation
	err := sqlscan.Select(ctx, s.db, &confirmations, `
		SELECT `+confirmationColumns+`
		FROM payment_confirmations
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	return confirmations, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var users []domain.UserAccount
	err := sqlscan.Select(ctx, s.db, &users, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// classify maps lock and serialization failures to ErrSerializationConflict.
// A duplicate order number is treated the same way: retrying draws a new one.
func classify(err error) error {
	if err == nil || errors.Is(err, store.ErrSerializationConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %w", store.ErrSerializationConflict, err)
	case "23505":
		if pgErr.ConstraintName == "orders_order_no_key" {
			return fmt.Errorf("%w: %w", store.ErrSerializationConflict, err)
		}
	case "23514", "22003":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.Message)
	}
	return err
}

func clampLimit(limit int) int {
	if limit < 1 || limit > 200 {
		return 200
	}
	return limit
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
