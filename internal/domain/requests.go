package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItemRequest struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type CartLine struct {
	VariantID   string          `json:"variant_id"`
	SKU         string          `json:"sku"`
	DisplayName string          `json:"display_name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type CartView struct {
	Lines []CartLine      `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

type POSCheckoutRequest struct {
	PaymentMethod string          `json:"payment_method"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Discount      decimal.Decimal `json:"discount"`
	CustomerID    string          `json:"customer_id,omitempty"`
}

type WebCheckoutRequest struct {
	CustomerName  string `json:"customer_name"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

type CheckoutResponse struct {
	OrderID      string          `json:"order_id"`
	OrderNo      string          `json:"order_no"`
	Channel      Channel         `json:"channel"`
	Status       OrderStatus     `json:"status,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
	ItemCount    int             `json:"item_count"`
	CreatedAt    string          `json:"created_at"`
}

type RefundResponse struct {
	OrderID    string          `json:"order_id"`
	OrderNo    string          `json:"order_no"`
	RefundedAt string          `json:"refunded_at"`
	Movements  []StockMovement `json:"movements"`
}

type PaymentConfirmationRequest struct {
	OrderNo    string          `json:"order_no"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	BankName   string          `json:"bank_name"`
	Note       string          `json:"note"`
}

type PaymentConfirmationResponse struct {
	Confirmation PaymentConfirmation `json:"confirmation"`
	OrderNo      string              `json:"order_no"`
	Status       OrderStatus         `json:"status"`
}

type StatusUpdateRequest struct {
	Status OrderStatus `json:"status"`
}

type OrderFilter struct {
	From          *time.Time
	To            *time.Time
	PaymentMethod string
	Channel       Channel
	Limit         int
}

type OrderSummary struct {
	TotalOrders int             `json:"total_orders"`
	TotalSales  decimal.Decimal `json:"total_sales"`
}

type OrderListResponse struct {
	Orders  []Order      `json:"orders"`
	Summary OrderSummary `json:"summary"`
}

type MovementFilter struct {
	VariantID string
	OrderID   string
	Types     []MovementType
	From      *time.Time
	To        *time.Time
	Limit     int
}

type StockBalance struct {
	VariantID string `json:"variant_id" db:"variant_id"`
	QtyIn     int    `json:"qty_in" db:"qty_in"`
	QtyOut    int    `json:"qty_out" db:"qty_out"`
	QtyAdjust int    `json:"qty_adjust" db:"qty_adjust"`
	Net       int    `json:"net" db:"net"`
}

type ReconciliationLine struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	StockQty  int    `json:"stock_qty"`
	LedgerNet int    `json:"ledger_net"`
	Drift     int    `json:"drift"`
}

type ReconciliationReport struct {
	Lines        []ReconciliationLine `json:"lines"`
	Consistent   bool                 `json:"consistent"`
	GeneratedAt  string               `json:"generated_at"`
	DriftedCount int                  `json:"drifted_count"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
