package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/ledger"
	"matchapos/backend/internal/logger"
	"matchapos/backend/internal/store"
	"matchapos/backend/internal/xid"
)

const defaultLockTimeout = 3 * time.Second

type Store struct {
	mu              sync.RWMutex
	locks           *lockTable
	lockTimeout     time.Duration
	variants        map[string]domain.ProductVariant
	ordersByID      map[string]*domain.Order
	orderIDByNo     map[string]string
	orderSeq        []string
	movements       []domain.StockMovement
	confirmations   map[string][]domain.PaymentConfirmation
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:           newLockTable(),
		lockTimeout:     defaultLockTimeout,
		variants:        make(map[string]domain.ProductVariant),
		ordersByID:      make(map[string]*domain.Order),
		orderIDByNo:     make(map[string]string),
		movements:       make([]domain.StockMovement, 0, 128),
		confirmations:   make(map[string][]domain.PaymentConfirmation),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// SetLockTimeout bounds how long a transaction waits for a row lock before
// giving up with a serialization conflict.
func (s *Store) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD with dev fallbacks.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn(context.Background(), "memory store using default dev credentials",
			"hint", "set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with the demo catalog and accounts.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	for _, v := range []domain.ProductVariant{
		{ProductName: "Matcha Premium", SKU: "M050", DisplayName: "50g", Unit: "bag", Price: money("150000"), SellPrice: money("145000"), StockQty: 40, ReorderLevel: 10},
		{ProductName: "Matcha Premium", SKU: "M100", DisplayName: "100g", Unit: "bag", Price: money("280000"), SellPrice: money("275000"), StockQty: 25, ReorderLevel: 5},
		{ProductName: "Matcha Latte", SKU: "LAT-HOT-M", DisplayName: "Hot M", Unit: "cup", SellPrice: money("35000"), StockQty: 200, ReorderLevel: 20},
		{ProductName: "Matcha Latte", SKU: "LAT-ICE-M", DisplayName: "Ice M", Unit: "cup", SellPrice: money("38000"), StockQty: 200, ReorderLevel: 20},
		{ProductName: "Matcha Latte", SKU: "LAT-ICE-L", DisplayName: "Ice L", Unit: "cup", SellPrice: money("42000"), StockQty: 150, ReorderLevel: 20},
		{ProductName: "Bamboo Whisk", SKU: "WHISK-80", DisplayName: "80 prong", Unit: "pcs", Price: money("120000"), StockQty: 12, ReorderLevel: 3},
	} {
		v.IsActive = true
		if _, err := s.AddVariant(v); err != nil {
			panic(fmt.Sprintf("memory store: seed variant %s: %v", v.SKU, err))
		}
	}
	return s
}

// AddVariant is the catalog-management hook for this store. Opening stock
// is recorded as an ADJUST movement so the ledger reconciles from the start.
func (s *Store) AddVariant(v domain.ProductVariant) (domain.ProductVariant, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.variants {
		if existing.SKU == v.SKU {
			return domain.ProductVariant{}, fmt.Errorf("%w: sku %s exists", store.ErrInvalidInput, v.SKU)
		}
	}
	s.variants[v.ID] = v
	if v.StockQty > 0 {
		s.movements = append(s.movements, domain.StockMovement{
			ID:           xid.New(),
			VariantID:    v.ID,
			MovementType: domain.MovementAdjust,
			Qty:          v.StockQty,
			Reason:       "Opening balance",
			CreatedAt:    v.CreatedAt,
		})
	}
	return v, nil
}

// SetSellPrice edits a variant's price; it never touches existing orders.
func (s *Store) SetSellPrice(id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return store.ErrNotFound
	}
	v.SellPrice = price
	s.variants[id] = v
	return nil
}

func (s *Store) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return store.ErrNotFound
	}
	v.IsActive = active
	s.variants[id] = v
	return nil
}

func (s *Store) VariantBySKU(sku string) (domain.ProductVariant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return domain.ProductVariant{}, false
}

func (s *Store) ListVariants(_ context.Context, query string) ([]domain.ProductVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.ProductVariant, 0, len(s.variants))
	for _, v := range s.variants {
		if q != "" &&
			!strings.Contains(strings.ToLower(v.SKU), q) &&
			!strings.Contains(strings.ToLower(v.DisplayName), q) &&
			!strings.Contains(strings.ToLower(v.ProductName), q) {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b domain.ProductVariant) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return out, nil
}

func (s *Store) GetVariant(_ context.Context, id string) (*domain.ProductVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) GetVariantsByIDs(_ context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.ProductVariant, len(ids))
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *Store) FindOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return order.Clone(), nil
}

func (s *Store) FindOrderByNumber(ctx context.Context, orderNo string) (*domain.Order, error) {
	s.mu.RLock()
	id, ok := s.orderIDByNo[strings.TrimSpace(orderNo)]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.FindOrderByID(ctx, id)
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := clampLimit(filter.Limit)
	out := make([]domain.Order, 0, min(limit, len(s.orderSeq)))
	for i := len(s.orderSeq) - 1; i >= 0 && len(out) < limit; i-- {
		order := s.ordersByID[s.orderSeq[i]]
		if filter.Channel != "" && order.Channel != filter.Channel {
			continue
		}
		if filter.PaymentMethod != "" && order.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.From != nil && order.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !order.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, *order.Clone())
	}
	return out, nil
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := clampLimit(filter.Limit)
	out := make([]domain.StockMovement, 0, min(limit, len(s.movements)))
	for i := len(s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if matchMovement(s.movements[i], filter) {
			out = append(out, s.movements[i])
		}
	}
	return out, nil
}

func (s *Store) SumMovements(_ context.Context, filter domain.MovementFilter) ([]domain.StockBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.StockMovement, 0, len(s.movements))
	for _, m := range s.movements {
		if matchMovement(m, filter) {
			matched = append(matched, m)
		}
	}
	return ledger.Balances(matched), nil
}

func (s *Store) ListPaymentConfirmations(_ context.Context, orderID string) ([]domain.PaymentConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.confirmations[orderID]), nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := newTx(s)
	defer t.close()
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func matchMovement(m domain.StockMovement, filter domain.MovementFilter) bool {
	if filter.VariantID != "" && m.VariantID != filter.VariantID {
		return false
	}
	if filter.OrderID != "" && m.OrderID != filter.OrderID {
		return false
	}
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, m.MovementType) {
		return false
	}
	if filter.From != nil && m.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !m.CreatedAt.Before(*filter.To) {
		return false
	}
	return true
}

func clampLimit(limit int) int {
	if limit < 1 || limit > 200 {
		return 200
	}
	return limit
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
