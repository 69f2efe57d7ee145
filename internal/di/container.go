package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saunamo/configurator-api/internal/catalog"
	"github.com/saunamo/configurator-api/internal/platform/config"
	"github.com/saunamo/configurator-api/internal/repositories"
	"github.com/saunamo/configurator-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog        services.CatalogService
	Configurations services.ConfigurationService
	Validator      services.SelectionValidator
	Pricing        services.PricingEngine
	Quotes         services.QuoteService
	System         services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	catalogProvider catalog.Provider
	events          services.QuoteEventPublisher
	logger          func(context.Context, string, map[string]any)
	clock           func() time.Time
	build           services.BuildInfo
	idGenerator     func() string
}

// WithCatalogProvider injects the upstream catalog client used by the catalog
// and configuration services.
func WithCatalogProvider(provider catalog.Provider) Option {
	return func(o *containerOptions) {
		o.catalogProvider = provider
	}
}

// WithEventPublisher injects the publisher for quote lifecycle events.
func WithEventPublisher(events services.QuoteEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = events
	}
}

// WithEventLogger injects the structured event logger shared by all services.
func WithEventLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithClock injects a custom clock primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo records build metadata surfaced by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithIDGenerator overrides quote ID generation, primarily for tests.
func WithIDGenerator(generator func() string) Option {
	return func(o *containerOptions) {
		o.idGenerator = generator
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.catalogProvider == nil {
		return nil, errors.New("catalog provider is required")
	}

	svc, err := buildServices(reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewUpstreamCatalogService(services.UpstreamCatalogServiceDeps{
		Provider: options.catalogProvider,
		Now:      options.clock,
		Logger:   options.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	configurationSvc, err := services.NewProductConfigurationService(services.ProductConfigurationServiceDeps{
		Repo:    reg.Configurations(),
		Catalog: options.catalogProvider,
		Now:     options.clock,
		Logger:  options.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build configuration service: %w", err)
	}
	svc.Configurations = configurationSvc

	svc.Validator = services.NewWizardSelectionValidator()

	var campaigns repositories.CampaignRepository
	if cfg.Features.EnableDiscounts {
		campaigns = reg.Campaigns()
	}
	pricing, err := services.NewQuotePricingEngine(services.QuotePricingEngineDeps{
		Campaigns: campaigns,
		Now:       options.clock,
		Logger:    options.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	quoteSvc, err := services.NewQuoteService(services.QuoteServiceDeps{
		Quotes:         reg.Quotes(),
		Configurations: configurationSvc,
		Validator:      svc.Validator,
		Pricing:        pricing,
		Counters:       reg.Counters(),
		Idempotency:    reg.Idempotency(),
		Events:         options.events,
		Clock:          options.clock,
		IDGenerator:    options.idGenerator,
		Logger:         options.logger,
		ValidityDays:   cfg.Quotes.ValidityDays,
		NumberPrefix:   cfg.Quotes.NumberPrefix,
		IdempotencyTTL: cfg.Idempotency.TTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote service: %w", err)
	}
	svc.Quotes = quoteSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            options.clock,
		Build:            options.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
