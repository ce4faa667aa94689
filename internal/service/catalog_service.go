package service

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// HotCatalog extends the sku lookup surface with the best-seller query
type HotCatalog interface {
	Catalog
	GetHotSKUs(ctx context.Context, categoryID int64, limit int) ([]models.SKU, error)
}

const hotSKULimit = 2

// CatalogService serves sku detail, best sellers and per-user browse
// history.
type CatalogService struct {
	store        HotCatalog
	redis        *redisclient.Client
	historyLimit int
	logger       *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(st HotCatalog, redis *redisclient.Client, historyLimit int) *CatalogService {
	return &CatalogService{
		store:        st,
		redis:        redis,
		historyLimit: historyLimit,
		logger:       util.GetLogger(),
	}
}

// SKU returns one launched sku
func (s *CatalogService) SKU(ctx context.Context, id int64) (*models.SKU, error) {
	return s.store.GetSKUByID(ctx, id)
}

// HotSKUs returns the best sellers of a category
func (s *CatalogService) HotSKUs(ctx context.Context, categoryID int64) ([]models.SKU, error) {
	return s.store.GetHotSKUs(ctx, categoryID, hotSKULimit)
}

// AddHistory records a sku visit at the head of the user's history
func (s *CatalogService) AddHistory(ctx context.Context, userID, skuID int64) error {
	if _, err := s.store.GetSKUByID(ctx, skuID); err != nil {
		return err
	}
	return s.redis.AddBrowseHistory(ctx, userID, skuID, s.historyLimit)
}

// History returns the visited skus, most recent first. Ids whose sku has
// been delisted are dropped from the result.
func (s *CatalogService) History(ctx context.Context, userID int64) ([]models.SKU, error) {
	ids, err := s.redis.BrowseHistory(ctx, userID, s.historyLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.SKU{}, nil
	}

	skus, err := s.store.GetSKUsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.SKU, len(skus))
	for _, sku := range skus {
		byID[sku.ID] = sku
	}

	ordered := make([]models.SKU, 0, len(ids))
	for _, id := range ids {
		if sku, ok := byID[id]; ok {
			ordered = append(ordered, sku)
		}
	}
	return ordered, nil
}
