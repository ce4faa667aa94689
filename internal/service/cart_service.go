package service

import (
	"context"
	"fmt"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Catalog is the sku lookup surface the cart needs
type Catalog interface {
	GetSKUByID(ctx context.Context, id int64) (*models.SKU, error)
	GetSKUsByIDs(ctx context.Context, ids []int64) ([]models.SKU, error)
}

// CartService validates cart mutations against the catalog and joins
// listings with sku details. The backing Store is chosen by the handler,
// so the same code path serves guests and logged-in users.
type CartService struct {
	catalog Catalog
	carts   *cart.RedisCarts
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(catalog Catalog, carts *cart.RedisCarts) *CartService {
	return &CartService{
		catalog: catalog,
		carts:   carts,
		logger:  util.GetLogger(),
	}
}

// RedisCarts exposes the server-side backing for handlers and login merge
func (s *CartService) RedisCarts() *cart.RedisCarts {
	return s.carts
}

// CartLine is a cart entry joined with its sku for listing
type CartLine struct {
	SKU      models.SKU `json:"sku"`
	Quantity int        `json:"quantity"`
	Selected bool       `json:"selected"`
}

func (s *CartService) validate(ctx context.Context, e cart.Entry) error {
	if e.SKUID < 1 {
		return &models.ValidationError{Reason: "sku_id must be >= 1"}
	}
	if e.Quantity < 1 {
		return &models.ValidationError{Reason: "quantity must be >= 1"}
	}
	sku, err := s.catalog.GetSKUByID(ctx, e.SKUID)
	if err != nil {
		return err
	}
	// Advisory only. Settlement re-checks stock inside its transaction.
	if sku.Stock < e.Quantity {
		return &models.InsufficientStockError{SKUID: e.SKUID}
	}
	return nil
}

// Add validates the entry and increments or inserts it
func (s *CartService) Add(ctx context.Context, st cart.Store, e cart.Entry) error {
	if err := s.validate(ctx, e); err != nil {
		return err
	}
	return st.Add(ctx, e)
}

// Set validates the entry and overwrites quantity and selection
func (s *CartService) Set(ctx context.Context, st cart.Store, e cart.Entry) error {
	if err := s.validate(ctx, e); err != nil {
		return err
	}
	return st.Set(ctx, e)
}

// Remove drops the sku from the cart
func (s *CartService) Remove(ctx context.Context, st cart.Store, skuID int64) error {
	if skuID < 1 {
		return &models.ValidationError{Reason: "sku_id must be >= 1"}
	}
	return st.Remove(ctx, skuID)
}

// List returns the cart joined with sku details, in first-add order.
// Entries whose sku has been delisted are skipped rather than failing
// the whole listing.
func (s *CartService) List(ctx context.Context, st cart.Store) ([]CartLine, error) {
	entries, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []CartLine{}, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.SKUID
	}
	skus, err := s.catalog.GetSKUsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.SKU, len(skus))
	for _, sku := range skus {
		byID[sku.ID] = sku
	}

	lines := make([]CartLine, 0, len(entries))
	for _, e := range entries {
		sku, ok := byID[e.SKUID]
		if !ok {
			continue
		}
		lines = append(lines, CartLine{SKU: sku, Quantity: e.Quantity, Selected: e.Selected})
	}
	return lines, nil
}

// MergeGuest folds a decoded guest cart into the user's server-side cart
// at login. Guest quantities win on conflict and flagged skus join the
// selected set; replaying the same blob changes nothing.
func (s *CartService) MergeGuest(ctx context.Context, userID int64, guest []cart.Entry) error {
	if len(guest) == 0 {
		return nil
	}
	if err := s.carts.Merge(ctx, userID, guest); err != nil {
		return fmt.Errorf("merge guest cart for user %d: %w", userID, err)
	}
	util.CartMergesTotal.Inc()
	s.logger.Info("Guest cart merged",
		zap.Int64("user_id", userID),
		zap.Int("entries", len(guest)))
	return nil
}
