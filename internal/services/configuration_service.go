package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	catalog "github.com/saunamo/configurator-api/internal/catalog"
	domain "github.com/saunamo/configurator-api/internal/domain"
	repositories "github.com/saunamo/configurator-api/internal/repositories"
)

var (
	// ErrConfigurationInvalidInput signals a malformed request such as a blank product id.
	ErrConfigurationInvalidInput = errors.New("configuration: invalid input")
	// ErrConfigurationInvalidModel is wrapped by ConfigurationValidationError when a model fails structural validation.
	ErrConfigurationInvalidModel = errors.New("configuration: invalid model")
)

// ConfigurationValidationError reports the structural violations that kept a
// configuration from being saved.
type ConfigurationValidationError struct {
	ProductID  string
	Violations []domain.Violation
}

func (e *ConfigurationValidationError) Error() string {
	return fmt.Sprintf("%v: product %q has %d violation(s)", ErrConfigurationInvalidModel, e.ProductID, len(e.Violations))
}

func (e *ConfigurationValidationError) Unwrap() error { return ErrConfigurationInvalidModel }

// ProductConfigurationService manages the configuration models admins edit and
// the wizard reads. Saving a model validates it and captures fresh catalog
// price snapshots, so pricing never has to call the catalog.
type ProductConfigurationService struct {
	repo    repositories.ConfigurationRepository
	catalog catalog.Provider
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

type ProductConfigurationServiceDeps struct {
	Repo    repositories.ConfigurationRepository
	Catalog catalog.Provider
	Now     func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

func NewProductConfigurationService(deps ProductConfigurationServiceDeps) (*ProductConfigurationService, error) {
	if deps.Repo == nil {
		return nil, errors.New("configuration service: repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("configuration service: catalog provider is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ProductConfigurationService{
		repo:    deps.Repo,
		catalog: deps.Catalog,
		now:     func() time.Time { return now().UTC() },
		logger:  logger,
	}, nil
}

// Put validates and persists a configuration model. Catalog-linked options get
// a fresh price snapshot stamped at save time; a model with violations is
// rejected before any write.
func (s *ProductConfigurationService) Put(ctx context.Context, cfg ProductConfiguration) (ProductConfiguration, error) {
	cfg.ProductID = strings.TrimSpace(cfg.ProductID)
	if cfg.ProductID == "" {
		return ProductConfiguration{}, fmt.Errorf("%w: product id is required", ErrConfigurationInvalidInput)
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		return ProductConfiguration{}, fmt.Errorf("%w: currency is required", ErrConfigurationInvalidInput)
	}

	if err := s.captureSnapshots(ctx, &cfg); err != nil {
		return ProductConfiguration{}, err
	}

	if violations := cfg.Validate(); len(violations) > 0 {
		return ProductConfiguration{}, &ConfigurationValidationError{ProductID: cfg.ProductID, Violations: violations}
	}

	now := s.now()
	if existing, err := s.repo.FindByProductID(ctx, cfg.ProductID); err == nil {
		cfg.CreatedAt = existing.CreatedAt
	} else if !isNotFound(err) {
		return ProductConfiguration{}, fmt.Errorf("configuration: load existing %q: %w", cfg.ProductID, err)
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	if err := s.repo.Put(ctx, cfg); err != nil {
		return ProductConfiguration{}, fmt.Errorf("configuration: save %q: %w", cfg.ProductID, err)
	}
	s.logger(ctx, "configuration_saved", map[string]any{"productId": cfg.ProductID, "steps": len(cfg.Steps)})
	return cfg, nil
}

func (s *ProductConfigurationService) Get(ctx context.Context, productID string) (ProductConfiguration, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductConfiguration{}, fmt.Errorf("%w: product id is required", ErrConfigurationInvalidInput)
	}
	cfg, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		return ProductConfiguration{}, fmt.Errorf("configuration: load %q: %w", productID, err)
	}
	return cfg, nil
}

func (s *ProductConfigurationService) List(ctx context.Context, page Pagination) (domain.CursorPage[ProductConfiguration], error) {
	result, err := s.repo.List(ctx, page)
	if err != nil {
		return domain.CursorPage[ProductConfiguration]{}, fmt.Errorf("configuration: list: %w", err)
	}
	return result, nil
}

func (s *ProductConfigurationService) Delete(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrConfigurationInvalidInput)
	}
	if err := s.repo.Delete(ctx, productID); err != nil {
		return fmt.Errorf("configuration: delete %q: %w", productID, err)
	}
	s.logger(ctx, "configuration_deleted", map[string]any{"productId": productID})
	return nil
}

// Validate reports the stored model's structural violations without mutating it.
func (s *ProductConfigurationService) Validate(ctx context.Context, productID string) ([]Violation, error) {
	cfg, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	return cfg.Validate(), nil
}

// RefreshSnapshots re-captures catalog prices for every linked option and
// persists the result. Admins call this after upstream price changes.
func (s *ProductConfigurationService) RefreshSnapshots(ctx context.Context, productID string) (ProductConfiguration, error) {
	cfg, err := s.Get(ctx, productID)
	if err != nil {
		return ProductConfiguration{}, err
	}
	if err := s.captureSnapshots(ctx, &cfg); err != nil {
		return ProductConfiguration{}, err
	}
	cfg.UpdatedAt = s.now()
	if err := s.repo.Put(ctx, cfg); err != nil {
		return ProductConfiguration{}, fmt.Errorf("configuration: save %q: %w", cfg.ProductID, err)
	}
	s.logger(ctx, "configuration_snapshots_refreshed", map[string]any{"productId": cfg.ProductID})
	return cfg, nil
}

// DefaultSelection builds the wizard's starting selection: each step's default
// options, falling back to the first option for required steps without one.
func (s *ProductConfigurationService) DefaultSelection(ctx context.Context, productID string) (Selection, error) {
	cfg, err := s.Get(ctx, productID)
	if err != nil {
		return Selection{}, err
	}

	sel := Selection{ProductID: cfg.ProductID, Chosen: make(map[string][]string, len(cfg.Steps))}
	for _, step := range cfg.Steps {
		var chosen []string
		for _, option := range step.Options {
			if !option.IsDefault {
				continue
			}
			chosen = append(chosen, option.ID)
			if !step.AllowMultiple {
				break
			}
		}
		if len(chosen) == 0 && step.Required && len(step.Options) > 0 {
			chosen = []string{step.Options[0].ID}
		}
		if len(chosen) > 0 {
			sel.Chosen[step.ID] = chosen
		}
	}
	return sel, nil
}

// captureSnapshots fetches each distinct linked catalog item once and stamps a
// snapshot onto every option referencing it.
func (s *ProductConfigurationService) captureSnapshots(ctx context.Context, cfg *ProductConfiguration) error {
	ids := make(map[int64]struct{})
	for _, step := range cfg.Steps {
		for _, option := range step.Options {
			if option.CatalogItemID != nil {
				ids[*option.CatalogItemID] = struct{}{}
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	capturedAt := s.now()
	snapshots := make(map[int64]domain.PriceSnapshot, len(ids))
	for id := range ids {
		item, err := s.catalog.FetchProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("configuration: snapshot catalog item %d: %w", id, err)
		}
		snapshots[id] = domain.PriceSnapshot{
			CatalogItemID: item.ID,
			UnitPrice:     item.UnitPrice,
			Currency:      item.Currency,
			TaxRateBp:     item.TaxRateBp,
			CapturedAt:    capturedAt,
		}
	}

	for si := range cfg.Steps {
		for oi := range cfg.Steps[si].Options {
			option := &cfg.Steps[si].Options[oi]
			if option.CatalogItemID == nil {
				continue
			}
			snapshot := snapshots[*option.CatalogItemID]
			option.Snapshot = &snapshot
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
