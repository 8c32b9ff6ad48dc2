package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/checkout"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/store"
)

// GetVariant returns one sellable variant; inactive ones read as missing.
func (s *Service) GetVariant(ctx context.Context, id string) (*domain.ProductVariant, error) {
	id = strings.TrimSpace(id)
	variant, err := s.repo.GetVariant(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !variant.IsActive) {
		return nil, apperror.NewVariantNotFound(id)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return variant, nil
}

// ListVariants returns the sellable catalog, optionally narrowed by a
// case-insensitive match on sku or name.
func (s *Service) ListVariants(ctx context.Context, query string) ([]domain.ProductVariant, error) {
	all, err := s.repo.ListVariants(ctx, query)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.ProductVariant, 0, len(all))
	for _, v := range all {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func CartKey(channel domain.Channel, sessionID string) (cart.Key, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return cart.Key{}, apperror.NewValidation("session id is required")
	}
	if !channel.Valid() {
		return cart.Key{}, apperror.NewValidation("unknown sales channel")
	}
	return cart.Key{Channel: channel, SessionID: sessionID}, nil
}

// POSSession scopes a POS cart to the signed-in user. A till id keeps
// several carts apart under one account but never reaches another user's.
func POSSession(username string, till string) string {
	till = strings.TrimSpace(till)
	if till == "" || till == username {
		return username
	}
	return username + "/" + till
}

func (s *Service) ViewCart(ctx context.Context, key cart.Key) (domain.CartView, error) {
	c, err := s.carts.Get(ctx, key)
	if err != nil {
		return domain.CartView{}, apperror.NewInternal(err)
	}
	return s.priceCart(ctx, c)
}

func (s *Service) AddToCart(ctx context.Context, key cart.Key, req domain.CartItemRequest) (domain.CartView, error) {
	req.VariantID = strings.TrimSpace(req.VariantID)
	if req.Qty == 0 {
		req.Qty = 1
	}
	if req.VariantID == "" {
		return domain.CartView{}, apperror.NewValidation("variant_id is required").WithDetail("field", "variant_id")
	}
	if req.Qty < 0 || req.Qty > domain.MaxLineQty {
		return domain.CartView{}, lineQtyError(req.VariantID)
	}

	variant, err := s.repo.GetVariant(ctx, req.VariantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CartView{}, apperror.NewVariantNotFound(req.VariantID)
		}
		return domain.CartView{}, translateError(err)
	}
	if !variant.IsActive {
		return domain.CartView{}, apperror.NewVariantNotFound(req.VariantID)
	}

	c, err := s.carts.Add(ctx, key, variant.ID, req.Qty)
	if errors.Is(err, cart.ErrLineLimit) {
		return domain.CartView{}, lineQtyError(variant.ID)
	}
	if err != nil {
		return domain.CartView{}, apperror.NewInternal(err)
	}
	return s.priceCart(ctx, c)
}

func lineQtyError(variantID string) *apperror.AppError {
	return apperror.NewValidation(fmt.Sprintf("quantity per line must be between 1 and %d", domain.MaxLineQty)).
		WithDetail("field", "qty").
		WithDetail("variant_id", variantID)
}

func (s *Service) RemoveFromCart(ctx context.Context, key cart.Key, variantID string) (domain.CartView, error) {
	c, err := s.carts.RemoveOne(ctx, key, strings.TrimSpace(variantID))
	if err != nil {
		return domain.CartView{}, apperror.NewInternal(err)
	}
	return s.priceCart(ctx, c)
}

func (s *Service) ClearCart(ctx context.Context, key cart.Key) error {
	if err := s.carts.Clear(ctx, key); err != nil {
		return apperror.NewInternal(err)
	}
	return nil
}

// priceCart shows current prices. Lines whose variant is gone or inactive
// are left out of the view; checkout rejects them.
func (s *Service) priceCart(ctx context.Context, c domain.Cart) (domain.CartView, error) {
	view := domain.CartView{Lines: []domain.CartLine{}, Total: decimal.Zero}
	if len(c) == 0 {
		return view, nil
	}

	variants, err := s.repo.GetVariantsByIDs(ctx, c.VariantIDs())
	if err != nil {
		return domain.CartView{}, translateError(err)
	}
	for id, qty := range c {
		v, ok := variants[id]
		if !ok || !v.IsActive {
			continue
		}
		item := checkout.PriceLine(v, qty)
		view.Lines = append(view.Lines, domain.CartLine{
			VariantID:   v.ID,
			SKU:         v.SKU,
			DisplayName: v.DisplayName,
			Qty:         qty,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
		view.Total = view.Total.Add(item.LineTotal)
	}
	slices.SortFunc(view.Lines, func(a, b domain.CartLine) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return view, nil
}
