package ledger

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchapos/backend/internal/domain"
)

func mv(variantID string, kind domain.MovementType, qty int) domain.StockMovement {
	return domain.StockMovement{VariantID: variantID, MovementType: kind, Qty: qty}
}

func TestSignedUsesMovementTypeForDirection(t *testing.T) {
	assert.Equal(t, 4, Signed(mv("a", domain.MovementIn, 4)))
	assert.Equal(t, -4, Signed(mv("a", domain.MovementOut, 4)))
	assert.Equal(t, 4, Signed(mv("a", domain.MovementAdjust, 4)))
	assert.Equal(t, 0, Signed(mv("a", domain.MovementType("BOGUS"), 4)))
}

func TestBalancesGroupsPerVariant(t *testing.T) {
	movements := []domain.StockMovement{
		mv("b", domain.MovementAdjust, 10),
		mv("a", domain.MovementAdjust, 5),
		mv("a", domain.MovementOut, 5),
		mv("a", domain.MovementIn, 2),
		mv("b", domain.MovementOut, 3),
	}

	balances := Balances(movements)
	require.Len(t, balances, 2)
	assert.Equal(t, domain.StockBalance{VariantID: "a", QtyIn: 2, QtyOut: 5, QtyAdjust: 5, Net: 2}, balances[0])
	assert.Equal(t, domain.StockBalance{VariantID: "b", QtyOut: 3, QtyAdjust: 10, Net: 7}, balances[1])
	assert.Equal(t, 9, Net(movements))
}

func TestReconcileFlagsDrift(t *testing.T) {
	variants := []domain.ProductVariant{
		{ID: "a", SKU: "M100", StockQty: 2},
		{ID: "b", SKU: "M050", StockQty: 8},
		{ID: "c", SKU: "WHISK", StockQty: 0},
	}
	balances := []domain.StockBalance{{VariantID: "a", Net: 2}, {VariantID: "b", Net: 7}}

	report := Reconcile(variants, balances, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.False(t, report.Consistent)
	assert.Equal(t, 1, report.DriftedCount)
	assert.Equal(t, "2026-01-02T03:04:05Z", report.GeneratedAt)
	require.Len(t, report.Lines, 3)
	assert.Equal(t, "M050", report.Lines[0].SKU)
	assert.Equal(t, 1, report.Lines[0].Drift)
	assert.Equal(t, 0, report.Lines[2].Drift)
}

func TestOutAndInMovementsMirrorOrderItems(t *testing.T) {
	seq := 0
	newID := func() string { seq++; return "mv-" + strconv.Itoa(seq) }
	at := time.Now().UTC()
	order := domain.Order{
		ID:        "o1",
		OrderNo:   "ORD20260101000000-aaaaaa",
		CreatedAt: at,
		Items: []domain.OrderItem{
			{VariantID: "a", Qty: 2},
			{VariantID: "b", Qty: 1},
		},
	}

	out := OutMovements(order, "cashier", newID)
	in := InMovements(order, "admin", "Refund Order "+order.OrderNo, at, newID)

	require.Len(t, out, 2)
	require.Len(t, in, 2)
	assert.Equal(t, 0, Net(append(out, in...)))
	assert.Equal(t, "cashier", out[0].ActorID)
	assert.Equal(t, "o1", in[1].OrderID)
	assert.Equal(t, "Refund Order ORD20260101000000-aaaaaa", in[0].Reason)
	assert.Equal(t, "mv-4", in[1].ID)
}
