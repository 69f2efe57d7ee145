package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	catalog "github.com/saunamo/configurator-api/internal/catalog"
	domain "github.com/saunamo/configurator-api/internal/domain"
)

// ErrCatalogInvalidInput signals a malformed catalog request.
var ErrCatalogInvalidInput = errors.New("catalog service: invalid input")

// UpstreamCatalogService exposes the external product catalog to handlers and
// admin tooling. It is a thin shim: all mapping into closed CatalogItem
// records happens inside the provider.
type UpstreamCatalogService struct {
	provider catalog.Provider
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

type UpstreamCatalogServiceDeps struct {
	Provider catalog.Provider
	Now      func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

func NewUpstreamCatalogService(deps UpstreamCatalogServiceDeps) (*UpstreamCatalogService, error) {
	if deps.Provider == nil {
		return nil, errors.New("catalog service: provider is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &UpstreamCatalogService{
		provider: deps.Provider,
		now:      func() time.Time { return now().UTC() },
		logger:   logger,
	}, nil
}

func (s *UpstreamCatalogService) GetProduct(ctx context.Context, id int64) (CatalogItem, error) {
	if id <= 0 {
		return CatalogItem{}, fmt.Errorf("%w: product id must be positive", ErrCatalogInvalidInput)
	}
	return s.provider.FetchProduct(ctx, id)
}

func (s *UpstreamCatalogService) ListProducts(ctx context.Context, filter string) ([]CatalogItem, error) {
	return s.provider.FetchAllProducts(ctx, strings.TrimSpace(filter))
}

// CreateProduct is the admin path; pricing never calls it.
func (s *UpstreamCatalogService) CreateProduct(ctx context.Context, input CreateProductInput) (CatalogItem, error) {
	if strings.TrimSpace(input.Name) == "" {
		return CatalogItem{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if strings.TrimSpace(input.Price) == "" {
		return CatalogItem{}, fmt.Errorf("%w: price is required", ErrCatalogInvalidInput)
	}

	item, err := s.provider.CreateProduct(ctx, catalog.ProductSpec{
		Name:           strings.TrimSpace(input.Name),
		SKU:            strings.TrimSpace(input.SKU),
		Price:          strings.TrimSpace(input.Price),
		Currency:       strings.ToUpper(strings.TrimSpace(input.Currency)),
		TaxRatePercent: strings.TrimSpace(input.TaxRatePercent),
	})
	if err != nil {
		return CatalogItem{}, err
	}
	s.logger(ctx, "catalog_product_created", map[string]any{"catalogItemId": item.ID, "sku": item.SKU})
	return item, nil
}

// Snapshot fetches an item and stamps it as a price snapshot, for ad-hoc
// inspection of what a configuration save would capture.
func (s *UpstreamCatalogService) Snapshot(ctx context.Context, catalogItemID int64) (PriceSnapshot, error) {
	item, err := s.GetProduct(ctx, catalogItemID)
	if err != nil {
		return PriceSnapshot{}, err
	}
	return domain.PriceSnapshot{
		CatalogItemID: item.ID,
		UnitPrice:     item.UnitPrice,
		Currency:      item.Currency,
		TaxRateBp:     item.TaxRateBp,
		CapturedAt:    s.now(),
	}, nil
}
