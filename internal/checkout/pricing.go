package checkout

import (
	"fmt"

	"github.com/shopspring/decimal"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/domain"
)

// maxAmount is the first value that no longer fits a NUMERIC(12,2) column.
var maxAmount = decimal.New(1, 10)

// ValidateAmount rejects money that cannot be stored as given: more than
// two decimal places, or ten or more integer digits.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return apperror.NewValidation(fmt.Sprintf("%s must have at most 2 decimal places", field)).
			WithDetail("field", field)
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return apperror.NewValidation(fmt.Sprintf("%s must be below %s", field, maxAmount.String())).
			WithDetail("field", field)
	}
	return nil
}

// UnitPrice resolves the price that gets frozen into an order item:
// sell_price when positive, else the legacy price when positive, else zero.
func UnitPrice(v domain.ProductVariant) decimal.Decimal {
	if v.SellPrice.IsPositive() {
		return v.SellPrice
	}
	if v.Price.IsPositive() {
		return v.Price
	}
	return decimal.Zero
}

// ClampDiscount keeps the discount inside [0, subtotal].
func ClampDiscount(discount decimal.Decimal, subtotal decimal.Decimal) decimal.Decimal {
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

type Totals struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal
}

func ComputeTotals(items []domain.OrderItem, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	clamped := ClampDiscount(discount, subtotal)
	return Totals{
		Subtotal:   subtotal,
		Discount:   clamped,
		GrandTotal: subtotal.Sub(clamped),
	}
}

// PriceLine snapshots the variant's current price into an order item.
func PriceLine(v domain.ProductVariant, qty int) domain.OrderItem {
	unit := UnitPrice(v)
	return domain.OrderItem{
		VariantID: v.ID,
		SKU:       v.SKU,
		Qty:       qty,
		UnitPrice: unit,
		LineTotal: unit.Mul(decimal.NewFromInt(int64(qty))),
	}
}
