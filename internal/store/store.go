package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"matchapos/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSerializationConflict = errors.New("serialization conflict")
	ErrAlreadyRefunded       = errors.New("order already refunded")
	ErrInvalidInput          = errors.New("invalid input")
)

// Repository is the read side plus the transaction entry point. Every
// mutation of stock, orders or the ledger goes through WithinTx.
type Repository interface {
	ListVariants(ctx context.Context, query string) ([]domain.ProductVariant, error)
	GetVariant(ctx context.Context, id string) (*domain.ProductVariant, error)
	GetVariantsByIDs(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error)
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	FindOrderByNumber(ctx context.Context, orderNo string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error)
	SumMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockBalance, error)
	ListPaymentConfirmations(ctx context.Context, orderID string) ([]domain.PaymentConfirmation, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is a single atomic unit. Nothing written through it is visible to
// other callers until fn returns nil; any error rolls everything back.
//
// The ledger is append-only: there is no way to update or delete a
// movement through Tx.
type Tx interface {
	// LockVariants takes exclusive locks on the whole id set at once and
	// returns the locked rows. Ids that do not resolve are absent from the map.
	LockVariants(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error)
	// LockOrder locks the order row and returns it with its items.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	// AdjustStock applies delta to a locked variant and returns the new
	// quantity. It refuses to take stock below zero.
	AdjustStock(ctx context.Context, variantID string, delta int) (int, error)
	AppendMovement(ctx context.Context, movement domain.StockMovement) error
	// MarkRefunded sets refunded_at once; a second call returns ErrAlreadyRefunded.
	MarkRefunded(ctx context.Context, orderID string, at time.Time) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error
	InsertPaymentConfirmation(ctx context.Context, confirmation domain.PaymentConfirmation) error
}

// UniqueIDs returns the distinct non-empty ids in ascending order, the
// order in which every store acquires variant locks.
func UniqueIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
