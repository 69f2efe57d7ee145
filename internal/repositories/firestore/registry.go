package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/saunamo/configurator-api/internal/platform/firestore"
	"github.com/saunamo/configurator-api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	configurations *ConfigurationRepository
	quotes         *QuoteRepository
	campaigns      *CampaignRepository
	counters       *CounterRepository
	idempotency    *IdempotencyRepository
	health         repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	configurations, err := NewConfigurationRepository(provider)
	if err != nil {
		return nil, err
	}
	quotes, err := NewQuoteRepository(provider)
	if err != nil {
		return nil, err
	}
	campaigns, err := NewCampaignRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	idempotency, err := NewIdempotencyRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: pingFirestore(provider)},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:       provider,
		configurations: configurations,
		quotes:         quotes,
		campaigns:      campaigns,
		counters:       counters,
		idempotency:    idempotency,
		health:         health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Configurations() repositories.ConfigurationRepository { return r.configurations }

func (r *Registry) Quotes() repositories.QuoteRepository { return r.quotes }

func (r *Registry) Campaigns() repositories.CampaignRepository { return r.campaigns }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Idempotency() repositories.IdempotencyRepository { return r.idempotency }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn directly. Writes that need atomicity run inside their
// repository's own Firestore transaction, so grouping across repositories is
// not supported here.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}

// pingFirestore probes connectivity with a single document read. A NotFound
// answer still proves the round trip, so it counts as healthy.
func pingFirestore(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collection("healthchecks").Doc("ping").Get(ctx)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		return nil
	}
}
