// Package ledger holds the arithmetic over stock movements. Quantities on
// a movement are always positive; direction comes from the movement type.
package ledger

import (
	"sort"
	"time"

	"matchapos/backend/internal/domain"
)

// Signed returns the movement's effect on stock: IN and ADJUST add, OUT removes.
func Signed(m domain.StockMovement) int {
	switch m.MovementType {
	case domain.MovementOut:
		return -m.Qty
	case domain.MovementIn, domain.MovementAdjust:
		return m.Qty
	default:
		return 0
	}
}

func Net(movements []domain.StockMovement) int {
	total := 0
	for _, m := range movements {
		total += Signed(m)
	}
	return total
}

// Balances folds movements into one row per variant, sorted by variant id.
func Balances(movements []domain.StockMovement) []domain.StockBalance {
	byVariant := make(map[string]*domain.StockBalance)
	for _, m := range movements {
		b, ok := byVariant[m.VariantID]
		if !ok {
			b = &domain.StockBalance{VariantID: m.VariantID}
			byVariant[m.VariantID] = b
		}
		switch m.MovementType {
		case domain.MovementIn:
			b.QtyIn += m.Qty
		case domain.MovementOut:
			b.QtyOut += m.Qty
		case domain.MovementAdjust:
			b.QtyAdjust += m.Qty
		}
		b.Net += Signed(m)
	}

	out := make([]domain.StockBalance, 0, len(byVariant))
	for _, b := range byVariant {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

// Reconcile compares each variant's stock_qty against the ledger net. A
// variant with no movements reconciles against zero.
func Reconcile(variants []domain.ProductVariant, balances []domain.StockBalance, at time.Time) domain.ReconciliationReport {
	nets := make(map[string]int, len(balances))
	for _, b := range balances {
		nets[b.VariantID] = b.Net
	}

	report := domain.ReconciliationReport{
		Lines:       make([]domain.ReconciliationLine, 0, len(variants)),
		Consistent:  true,
		GeneratedAt: at.UTC().Format(time.RFC3339),
	}
	for _, v := range variants {
		line := domain.ReconciliationLine{
			VariantID: v.ID,
			SKU:       v.SKU,
			StockQty:  v.StockQty,
			LedgerNet: nets[v.ID],
		}
		line.Drift = line.StockQty - line.LedgerNet
		if line.Drift != 0 {
			report.Consistent = false
			report.DriftedCount++
		}
		report.Lines = append(report.Lines, line)
	}
	sort.Slice(report.Lines, func(i, j int) bool { return report.Lines[i].SKU < report.Lines[j].SKU })
	return report
}

// OutMovements builds the OUT entries for a committed order, one per item.
func OutMovements(order domain.Order, actorID string, newID func() string) []domain.StockMovement {
	out := make([]domain.StockMovement, 0, len(order.Items))
	for _, item := range order.Items {
		out = append(out, domain.StockMovement{
			ID:           newID(),
			VariantID:    item.VariantID,
			MovementType: domain.MovementOut,
			Qty:          item.Qty,
			Reason:       "Sale " + order.OrderNo,
			OrderID:      order.ID,
			ActorID:      actorID,
			CreatedAt:    order.CreatedAt,
		})
	}
	return out
}

// InMovements builds the reversing IN entries for an order.
func InMovements(order domain.Order, actorID string, reason string, at time.Time, newID func() string) []domain.StockMovement {
	out := make([]domain.StockMovement, 0, len(order.Items))
	for _, item := range order.Items {
		out = append(out, domain.StockMovement{
			ID:           newID(),
			VariantID:    item.VariantID,
			MovementType: domain.MovementIn,
			Qty:          item.Qty,
			Reason:       reason,
			OrderID:      order.ID,
			ActorID:      actorID,
			CreatedAt:    at,
		})
	}
	return out
}
