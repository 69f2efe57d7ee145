package repositories

import (
	"context"
	"time"

	domain "github.com/saunamo/configurator-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Configurations() ConfigurationRepository
	Quotes() QuoteRepository
	Campaigns() CampaignRepository
	Counters() CounterRepository
	Idempotency() IdempotencyRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ConfigurationRepository persists product configuration models.
type ConfigurationRepository interface {
	Put(ctx context.Context, cfg domain.ProductConfiguration) error
	FindByProductID(ctx context.Context, productID string) (domain.ProductConfiguration, error)
	List(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.ProductConfiguration], error)
	Delete(ctx context.Context, productID string) error
}

// QuoteRepository persists quotes and supports listing by customer and status.
type QuoteRepository interface {
	Insert(ctx context.Context, quote domain.Quote) error
	Update(ctx context.Context, quote domain.Quote) error
	FindByID(ctx context.Context, quoteID string) (domain.Quote, error)
	List(ctx context.Context, filter QuoteListFilter) (domain.CursorPage[domain.Quote], error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.Quote, error)
}

// CampaignRepository stores discount campaigns evaluated by the pricing engine.
type CampaignRepository interface {
	Put(ctx context.Context, campaign domain.DiscountCampaign) error
	FindByID(ctx context.Context, campaignID string) (domain.DiscountCampaign, error)
	ListActive(ctx context.Context, at time.Time) ([]domain.DiscountCampaign, error)
}

// IdempotencyRepository remembers request keys so quote creation can be retried safely.
type IdempotencyRepository interface {
	// Remember stores the key with the associated quote ID. It returns the
	// previously stored quote ID and false when the key was already present.
	Remember(ctx context.Context, key string, quoteID string, ttl time.Duration) (string, bool, error)
	// Forget releases a key reserved by Remember, so a create that failed
	// after reserving it can be retried. Forgetting an absent key is not an
	// error.
	Forget(ctx context.Context, key string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// QuoteListFilter narrows quote listings.
type QuoteListFilter struct {
	ProductID     string
	Status        domain.QuoteStatus
	CustomerEmail string
	Page          domain.Pagination
	Order         domain.SortOrder
}
