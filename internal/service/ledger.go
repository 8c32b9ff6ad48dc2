package service

import (
	"context"
	"strings"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/ledger"
)

func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	if err := validateMovementFilter(&filter); err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, translateError(err)
	}
	if movements == nil {
		movements = []domain.StockMovement{}
	}
	return movements, nil
}

func (s *Service) StockBalances(ctx context.Context, filter domain.MovementFilter) ([]domain.StockBalance, error) {
	if err := validateMovementFilter(&filter); err != nil {
		return nil, err
	}
	balances, err := s.repo.SumMovements(ctx, filter)
	if err != nil {
		return nil, translateError(err)
	}
	if balances == nil {
		balances = []domain.StockBalance{}
	}
	return balances, nil
}

// Reconcile compares every variant's stock_qty with the net of its whole
// ledger history.
func (s *Service) Reconcile(ctx context.Context) (domain.ReconciliationReport, error) {
	variants, err := s.repo.ListVariants(ctx, "")
	if err != nil {
		return domain.ReconciliationReport{}, translateError(err)
	}
	balances, err := s.repo.SumMovements(ctx, domain.MovementFilter{})
	if err != nil {
		return domain.ReconciliationReport{}, translateError(err)
	}

	report := ledger.Reconcile(variants, balances, s.now())
	if !report.Consistent {
		s.log.WithContext(ctx).Warnw("stock ledger drift detected", "variants", report.DriftedCount)
	}
	return report, nil
}

func validateMovementFilter(filter *domain.MovementFilter) error {
	filter.VariantID = strings.TrimSpace(filter.VariantID)
	filter.OrderID = strings.TrimSpace(filter.OrderID)
	for i, t := range filter.Types {
		t = domain.MovementType(strings.ToUpper(strings.TrimSpace(string(t))))
		if !t.Valid() {
			return apperror.NewValidation("unknown movement type " + string(t)).WithDetail("field", "type")
		}
		filter.Types[i] = t
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return apperror.NewValidation("to must not be before from")
	}
	if filter.Limit < 0 {
		return apperror.NewValidation("limit must not be negative").WithDetail("field", "limit")
	}
	return nil
}
