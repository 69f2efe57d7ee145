package services

import (
	"context"
	"time"

	domain "github.com/saunamo/configurator-api/internal/domain"
)

// Domain aliases re-exported for handler convenience.
type (
	CatalogItem          = domain.CatalogItem
	PriceSnapshot        = domain.PriceSnapshot
	ProductConfiguration = domain.ProductConfiguration
	Step                 = domain.Step
	Option               = domain.Option
	Selection            = domain.Selection
	LineItem             = domain.LineItem
	PriceBreakdown       = domain.PriceBreakdown
	AppliedDiscount      = domain.AppliedDiscount
	DiscountCampaign     = domain.DiscountCampaign
	Quote                = domain.Quote
	QuoteStatus          = domain.QuoteStatus
	Customer             = domain.Customer
	Violation            = domain.Violation
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
)

// CatalogService exposes catalog reads backed by the upstream product service.
type CatalogService interface {
	GetProduct(ctx context.Context, id int64) (CatalogItem, error)
	ListProducts(ctx context.Context, filter string) ([]CatalogItem, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (CatalogItem, error)
	Snapshot(ctx context.Context, catalogItemID int64) (PriceSnapshot, error)
}

// CreateProductInput carries the admin-supplied fields for a new catalog product.
type CreateProductInput struct {
	Name           string
	SKU            string
	Price          string
	Currency       string
	TaxRatePercent string
}

// ConfigurationService manages product configuration models.
type ConfigurationService interface {
	Put(ctx context.Context, cfg ProductConfiguration) (ProductConfiguration, error)
	Get(ctx context.Context, productID string) (ProductConfiguration, error)
	List(ctx context.Context, page Pagination) (domain.CursorPage[ProductConfiguration], error)
	Delete(ctx context.Context, productID string) error
	Validate(ctx context.Context, productID string) ([]Violation, error)
	RefreshSnapshots(ctx context.Context, productID string) (ProductConfiguration, error)
	DefaultSelection(ctx context.Context, productID string) (Selection, error)
}

// SelectionValidator normalises raw selections against a configuration model.
type SelectionValidator interface {
	Normalize(ctx context.Context, cfg ProductConfiguration, sel Selection) (Selection, error)
}

// PricingEngine computes deterministic price breakdowns for normalised selections.
type PricingEngine interface {
	Price(ctx context.Context, cfg ProductConfiguration, sel Selection) (PriceBreakdown, error)
}

// QuoteService builds, persists, and transitions quotes.
type QuoteService interface {
	Preview(ctx context.Context, productID string, sel Selection) (PriceBreakdown, error)
	Create(ctx context.Context, cmd CreateQuoteCommand) (Quote, error)
	Get(ctx context.Context, quoteID string) (Quote, error)
	List(ctx context.Context, filter QuoteListQuery) (domain.CursorPage[Quote], error)
	Send(ctx context.Context, quoteID string) (Quote, error)
	Accept(ctx context.Context, quoteID string) (Quote, error)
	Expire(ctx context.Context, quoteID string) (Quote, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// CreateQuoteCommand captures the inputs for building a new quote.
type CreateQuoteCommand struct {
	ProductID  string
	Selection  Selection
	Customer   *Customer
	ValidDays  int
	Metadata   map[string]any
	RequestKey string
}

// QuoteListQuery narrows quote listings at the service boundary.
type QuoteListQuery struct {
	ProductID     string
	Status        QuoteStatus
	CustomerEmail string
	Page          Pagination
	Order         SortOrder
}

// QuoteEventMessage is the payload published for quote lifecycle events.
type QuoteEventMessage struct {
	Event       string    `json:"event"`
	QuoteID     string    `json:"quoteId"`
	QuoteNumber string    `json:"quoteNumber"`
	ProductID   string    `json:"productId"`
	Status      string    `json:"status"`
	Total       int64     `json:"total"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// QuoteEventPublisher emits quote lifecycle events to downstream consumers.
type QuoteEventPublisher interface {
	PublishQuoteEvent(ctx context.Context, message QuoteEventMessage) (string, error)
}

// SystemService aggregates dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
	Build() BuildInfo
}
