package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Channel string

const (
	ChannelPOS Channel = "pos"
	ChannelWeb Channel = "web"
)

func (c Channel) Valid() bool {
	return c == ChannelPOS || c == ChannelWeb
}

type ProductVariant struct {
	ID           string          `json:"id" db:"id"`
	ProductName  string          `json:"product_name" db:"product_name"`
	SKU          string          `json:"sku" db:"sku"`
	DisplayName  string          `json:"display_name" db:"display_name"`
	Unit         string          `json:"unit" db:"unit"`
	Price        decimal.Decimal `json:"price" db:"price"`
	SellPrice    decimal.Decimal `json:"sell_price" db:"sell_price"`
	StockQty     int             `json:"stock_qty" db:"stock_qty"`
	ReorderLevel int             `json:"reorder_level" db:"reorder_level"`
	IsActive     bool            `json:"is_active" db:"is_active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Cart maps variant id to requested quantity.
type Cart map[string]int

// MaxLineQty is the largest quantity a single cart line may hold.
const MaxLineQty = 9999

func (c Cart) Clone() Cart {
	dup := make(Cart, len(c))
	for id, qty := range c {
		dup[id] = qty
	}
	return dup
}

// Normalize drops blank ids and non-positive quantities.
func (c Cart) Normalize() Cart {
	normalized := make(Cart, len(c))
	for id, qty := range c {
		if id == "" || qty < 1 {
			continue
		}
		normalized[id] = qty
	}
	return normalized
}

func (c Cart) VariantIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	return ids
}

type MovementType string

const (
	MovementIn     MovementType = "IN"
	MovementOut    MovementType = "OUT"
	MovementAdjust MovementType = "ADJUST"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjust:
		return true
	default:
		return false
	}
}

type StockMovement struct {
	ID           string       `json:"id" db:"id"`
	VariantID    string       `json:"variant_id" db:"variant_id"`
	MovementType MovementType `json:"movement_type" db:"movement_type"`
	Qty          int          `json:"qty" db:"qty"`
	Reason       string       `json:"reason" db:"reason"`
	OrderID      string       `json:"order_id,omitempty" db:"order_id"`
	ActorID      string       `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

type OrderStatus string

const (
	StatusNew            OrderStatus = "NEW"
	StatusWaitingPayment OrderStatus = "WAITING_PAYMENT"
	StatusPaid           OrderStatus = "PAID"
	StatusShipping       OrderStatus = "SHIPPING"
	StatusDone           OrderStatus = "DONE"
	StatusCancel         OrderStatus = "CANCEL"
)

var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusNew:            {StatusWaitingPayment, StatusPaid, StatusShipping, StatusCancel},
	StatusWaitingPayment: {StatusPaid, StatusCancel},
	StatusPaid:           {StatusShipping, StatusCancel},
	StatusShipping:       {StatusDone},
}

// CanTransition reports whether a web order may move from one status to another.
// DONE and CANCEL are terminal.
func CanTransition(from OrderStatus, to OrderStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID            string          `json:"id" db:"id"`
	Channel       Channel         `json:"channel" db:"channel"`
	OrderNo       string          `json:"order_no" db:"order_no"`
	CashierID     string          `json:"cashier_id,omitempty" db:"cashier_id"`
	CustomerID    string          `json:"customer_id,omitempty" db:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty" db:"customer_name"`
	Phone         string          `json:"phone,omitempty" db:"phone"`
	Address       string          `json:"address,omitempty" db:"address"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount      decimal.Decimal `json:"discount" db:"discount"`
	GrandTotal    decimal.Decimal `json:"grand_total" db:"grand_total"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	PaidAmount    decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	ChangeAmount  decimal.Decimal `json:"change_amount" db:"change_amount"`
	Status        OrderStatus     `json:"status,omitempty" db:"status"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	Items         []OrderItem     `json:"items" db:"-"`
}

func (o *Order) Refunded() bool {
	return o.RefundedAt != nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	dup := *o
	dup.Items = make([]OrderItem, len(o.Items))
	copy(dup.Items, o.Items)
	if o.RefundedAt != nil {
		at := *o.RefundedAt
		dup.RefundedAt = &at
	}
	return &dup
}

// OrderItem is a point-in-time price snapshot; it is never re-read from the variant.
type OrderItem struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	VariantID string          `json:"variant_id" db:"variant_id"`
	SKU       string          `json:"sku" db:"sku"`
	Qty       int             `json:"qty" db:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total" db:"line_total"`
}

type PaymentConfirmation struct {
	ID         string          `json:"id" db:"id"`
	OrderID    string          `json:"order_id" db:"order_id"`
	PaidAmount decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	PaidAt     time.Time       `json:"paid_at" db:"paid_at"`
	BankName   string          `json:"bank_name" db:"bank_name"`
	Note       string          `json:"note" db:"note"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password"`
	Role      string    `json:"role" db:"role"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
