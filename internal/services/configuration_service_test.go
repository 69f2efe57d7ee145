package services

import (
	"context"
	"errors"
	"testing"
	"time"

	catalog "github.com/saunamo/configurator-api/internal/catalog"
	domain "github.com/saunamo/configurator-api/internal/domain"
)

type fakeCatalogProvider struct {
	items   map[int64]domain.CatalogItem
	fetches int
	err     error
}

func (f *fakeCatalogProvider) FetchProduct(ctx context.Context, id int64) (domain.CatalogItem, error) {
	f.fetches++
	if f.err != nil {
		return domain.CatalogItem{}, f.err
	}
	item, ok := f.items[id]
	if !ok {
		return domain.CatalogItem{}, catalog.ErrNotFound
	}
	return item, nil
}

func (f *fakeCatalogProvider) FetchAllProducts(ctx context.Context, filter string) ([]domain.CatalogItem, error) {
	out := make([]domain.CatalogItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeCatalogProvider) CreateProduct(ctx context.Context, spec catalog.ProductSpec) (domain.CatalogItem, error) {
	item := domain.CatalogItem{ID: int64(len(f.items) + 1), Name: spec.Name, SKU: spec.SKU, Currency: spec.Currency}
	if f.items == nil {
		f.items = make(map[int64]domain.CatalogItem)
	}
	f.items[item.ID] = item
	return item, nil
}

type fakeConfigurationRepository struct {
	configs map[string]domain.ProductConfiguration
	puts    int
}

func newFakeConfigurationRepository() *fakeConfigurationRepository {
	return &fakeConfigurationRepository{configs: make(map[string]domain.ProductConfiguration)}
}

func (f *fakeConfigurationRepository) Put(ctx context.Context, cfg domain.ProductConfiguration) error {
	f.configs[cfg.ProductID] = cfg
	f.puts++
	return nil
}

func (f *fakeConfigurationRepository) FindByProductID(ctx context.Context, productID string) (domain.ProductConfiguration, error) {
	cfg, ok := f.configs[productID]
	if !ok {
		return domain.ProductConfiguration{}, &notFoundError{msg: "configuration missing"}
	}
	return cfg, nil
}

func (f *fakeConfigurationRepository) List(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.ProductConfiguration], error) {
	out := domain.CursorPage[domain.ProductConfiguration]{}
	for _, cfg := range f.configs {
		out.Items = append(out.Items, cfg)
	}
	return out, nil
}

func (f *fakeConfigurationRepository) Delete(ctx context.Context, productID string) error {
	if _, ok := f.configs[productID]; !ok {
		return &notFoundError{msg: "configuration missing"}
	}
	delete(f.configs, productID)
	return nil
}

func newConfigurationService(t *testing.T, repo *fakeConfigurationRepository, provider *fakeCatalogProvider) *ProductConfigurationService {
	t.Helper()
	service, err := NewProductConfigurationService(ProductConfigurationServiceDeps{
		Repo:    repo,
		Catalog: provider,
		Now:     func() time.Time { return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewProductConfigurationService error: %v", err)
	}
	return service
}

func linkedConfig() ProductConfiguration {
	return ProductConfiguration{
		ProductID: "barrel-sauna",
		Currency:  "EUR",
		Steps: []Step{
			{
				ID:       "heater",
				Required: true,
				Options: []Option{
					{ID: "h1", Label: "Harvia 6kW", CatalogItemID: int64Ptr(42)},
					{ID: "h2", Label: "Harvia 9kW", CatalogItemID: int64Ptr(42)},
				},
			},
			{
				ID:      "extras",
				Options: []Option{{ID: "e1", Label: "Bucket set", PriceOverride: int64Ptr(4500)}},
			},
		},
	}
}

func TestProductConfigurationServicePutCapturesSnapshots(t *testing.T) {
	repo := newFakeConfigurationRepository()
	provider := &fakeCatalogProvider{items: map[int64]domain.CatalogItem{
		42: {ID: 42, Name: "Harvia heater", UnitPrice: 50000, Currency: "EUR", TaxRateBp: 2100},
	}}
	service := newConfigurationService(t, repo, provider)

	saved, err := service.Put(context.Background(), linkedConfig())
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}

	// Two options share one catalog item; it is fetched once.
	if provider.fetches != 1 {
		t.Fatalf("expected 1 catalog fetch, got %d", provider.fetches)
	}
	for _, option := range saved.Steps[0].Options {
		if option.Snapshot == nil {
			t.Fatalf("option %s missing snapshot", option.ID)
		}
		if option.Snapshot.UnitPrice != 50000 || option.Snapshot.Currency != "EUR" || option.Snapshot.TaxRateBp != 2100 {
			t.Fatalf("unexpected snapshot: %+v", option.Snapshot)
		}
	}
	if saved.Steps[1].Options[0].Snapshot != nil {
		t.Fatalf("override-only option must not get a snapshot")
	}
	if saved.CreatedAt.IsZero() || !saved.UpdatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("unexpected timestamps: %+v", saved)
	}
	if repo.puts != 1 {
		t.Fatalf("expected one repository write, got %d", repo.puts)
	}
}

func TestProductConfigurationServicePutPreservesCreatedAt(t *testing.T) {
	repo := newFakeConfigurationRepository()
	provider := &fakeCatalogProvider{items: map[int64]domain.CatalogItem{
		42: {ID: 42, Name: "Harvia heater", UnitPrice: 50000, Currency: "EUR", TaxRateBp: 2100},
	}}
	service := newConfigurationService(t, repo, provider)

	first, err := service.Put(context.Background(), linkedConfig())
	if err != nil {
		t.Fatalf("first Put error: %v", err)
	}
	second, err := service.Put(context.Background(), linkedConfig())
	if err != nil {
		t.Fatalf("second Put error: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt must survive updates: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestProductConfigurationServicePutRejectsInvalidModel(t *testing.T) {
	repo := newFakeConfigurationRepository()
	service := newConfigurationService(t, repo, &fakeCatalogProvider{})

	cfg := ProductConfiguration{
		ProductID: "broken",
		Currency:  "EUR",
		Steps: []Step{
			{ID: "heater", Required: true, Options: nil},
			{ID: "heater", Options: []Option{{ID: "x"}}},
		},
	}

	_, err := service.Put(context.Background(), cfg)
	if !errors.Is(err, ErrConfigurationInvalidModel) {
		t.Fatalf("expected ErrConfigurationInvalidModel, got %v", err)
	}
	var valErr *ConfigurationValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ConfigurationValidationError, got %T", err)
	}
	if len(valErr.Violations) == 0 {
		t.Fatalf("expected violations to be reported")
	}
	if repo.puts != 0 {
		t.Fatalf("invalid model must not be written")
	}
}

func TestProductConfigurationServicePutFailsOnMissingCatalogItem(t *testing.T) {
	repo := newFakeConfigurationRepository()
	service := newConfigurationService(t, repo, &fakeCatalogProvider{})

	if _, err := service.Put(context.Background(), linkedConfig()); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
}

func TestProductConfigurationServiceRefreshSnapshots(t *testing.T) {
	repo := newFakeConfigurationRepository()
	provider := &fakeCatalogProvider{items: map[int64]domain.CatalogItem{
		42: {ID: 42, Name: "Harvia heater", UnitPrice: 50000, Currency: "EUR", TaxRateBp: 2100},
	}}
	service := newConfigurationService(t, repo, provider)

	if _, err := service.Put(context.Background(), linkedConfig()); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	// Upstream price change is only visible after an explicit refresh.
	provider.items[42] = domain.CatalogItem{ID: 42, Name: "Harvia heater", UnitPrice: 52000, Currency: "EUR", TaxRateBp: 2100}

	refreshed, err := service.RefreshSnapshots(context.Background(), "barrel-sauna")
	if err != nil {
		t.Fatalf("RefreshSnapshots error: %v", err)
	}
	if got := refreshed.Steps[0].Options[0].Snapshot.UnitPrice; got != 52000 {
		t.Fatalf("expected refreshed price 52000, got %d", got)
	}
}

func TestProductConfigurationServiceDefaultSelection(t *testing.T) {
	repo := newFakeConfigurationRepository()
	provider := &fakeCatalogProvider{items: map[int64]domain.CatalogItem{
		42: {ID: 42, Name: "Harvia heater", UnitPrice: 50000, Currency: "EUR", TaxRateBp: 2100},
	}}
	service := newConfigurationService(t, repo, provider)

	cfg := linkedConfig()
	cfg.Steps[0].Options[1].IsDefault = true
	if _, err := service.Put(context.Background(), cfg); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	sel, err := service.DefaultSelection(context.Background(), "barrel-sauna")
	if err != nil {
		t.Fatalf("DefaultSelection error: %v", err)
	}
	if got := sel.Chosen["heater"]; len(got) != 1 || got[0] != "h2" {
		t.Fatalf("expected default h2, got %v", got)
	}
	if _, ok := sel.Chosen["extras"]; ok {
		t.Fatalf("optional step without default must stay unselected")
	}
}

func TestProductConfigurationServiceValidateAndDelete(t *testing.T) {
	repo := newFakeConfigurationRepository()
	provider := &fakeCatalogProvider{items: map[int64]domain.CatalogItem{
		42: {ID: 42, Name: "Harvia heater", UnitPrice: 50000, Currency: "EUR", TaxRateBp: 2100},
	}}
	service := newConfigurationService(t, repo, provider)

	if _, err := service.Put(context.Background(), linkedConfig()); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	violations, err := service.Validate(context.Background(), "barrel-sauna")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected clean model, got %v", violations)
	}

	if err := service.Delete(context.Background(), "barrel-sauna"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := service.Get(context.Background(), "barrel-sauna"); err == nil {
		t.Fatalf("deleted configuration must not load")
	}
}
