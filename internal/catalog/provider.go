package catalog

import (
	"context"
	"errors"

	domain "github.com/saunamo/configurator-api/internal/domain"
)

var (
	// ErrNotFound is returned when the upstream catalog has no item for the id.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrInvalidInput signals a malformed request or an upstream payload that
	// fails the validated mapping into a CatalogItem.
	ErrInvalidInput = errors.New("catalog: invalid input")
	// ErrUnavailable indicates the upstream catalog could not be reached or
	// answered with a server error. Retry policy is the caller's concern.
	ErrUnavailable = errors.New("catalog: upstream unavailable")
)

// ProductSpec describes a product to create on the admin path. Amounts follow
// the upstream wire format: fixed-point decimal strings.
type ProductSpec struct {
	Name           string
	SKU            string
	Price          string
	Currency       string
	TaxRatePercent string
}

// Provider is the narrow contract the rest of the application consumes. The
// pricing core depends only on the read operations and never re-enters the
// provider mid-computation; it consumes already-captured snapshots.
type Provider interface {
	FetchProduct(ctx context.Context, id int64) (domain.CatalogItem, error)
	FetchAllProducts(ctx context.Context, filter string) ([]domain.CatalogItem, error)
	CreateProduct(ctx context.Context, spec ProductSpec) (domain.CatalogItem, error)
}
