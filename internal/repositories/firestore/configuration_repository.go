package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/saunamo/configurator-api/internal/domain"
	pfirestore "github.com/saunamo/configurator-api/internal/platform/firestore"
	"github.com/saunamo/configurator-api/internal/platform/pagination"
)

const configurationCollection = "productConfigurations"

type snapshotDocument struct {
	CatalogItemID int64     `firestore:"catalogItemId"`
	UnitPrice     int64     `firestore:"unitPrice"`
	Currency      string    `firestore:"currency"`
	TaxRateBp     int64     `firestore:"taxRateBp"`
	CapturedAt    time.Time `firestore:"capturedAt"`
}

type optionDocument struct {
	ID            string            `firestore:"id"`
	Label         string            `firestore:"label"`
	CatalogItemID *int64            `firestore:"catalogItemId,omitempty"`
	PriceOverride *int64            `firestore:"priceOverride,omitempty"`
	TaxRateBp     int64             `firestore:"taxRateBp"`
	Quantity      int               `firestore:"quantity"`
	IsDefault     bool              `firestore:"isDefault"`
	Snapshot      *snapshotDocument `firestore:"snapshot,omitempty"`
}

type stepDocument struct {
	ID            string           `firestore:"id"`
	Name          string           `firestore:"name"`
	Required      bool             `firestore:"required"`
	AllowMultiple bool             `firestore:"allowMultiple"`
	Options       []optionDocument `firestore:"options"`
}

type configurationDocument struct {
	Name      string         `firestore:"name"`
	Currency  string         `firestore:"currency"`
	Steps     []stepDocument `firestore:"steps"`
	CreatedAt time.Time      `firestore:"createdAt"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

// ConfigurationRepository persists product configuration models in Firestore,
// one document per product keyed by product id. Step and option order is
// stored positionally so wizard ordering survives round trips.
type ConfigurationRepository struct {
	base *pfirestore.BaseRepository[configurationDocument]
}

// NewConfigurationRepository constructs a Firestore-backed configuration repository.
func NewConfigurationRepository(provider *pfirestore.Provider) (*ConfigurationRepository, error) {
	if provider == nil {
		return nil, errors.New("configuration repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[configurationDocument](provider, configurationCollection, nil, nil)
	return &ConfigurationRepository{base: base}, nil
}

func (r *ConfigurationRepository) Put(ctx context.Context, cfg domain.ProductConfiguration) error {
	productID := strings.TrimSpace(cfg.ProductID)
	if productID == "" {
		return errors.New("configuration repository: product id is required")
	}
	_, err := r.base.Set(ctx, productID, encodeConfiguration(cfg))
	return err
}

func (r *ConfigurationRepository) FindByProductID(ctx context.Context, productID string) (domain.ProductConfiguration, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductConfiguration{}, errors.New("configuration repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.ProductConfiguration{}, err
	}
	return decodeConfiguration(doc.ID, doc.Data), nil
}

func (r *ConfigurationRepository) List(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.ProductConfiguration], error) {
	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = pagination.FromContextOrDefault(ctx).PageSize
	}

	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ProductConfiguration]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.ProductConfiguration]{}, err
	}

	result := domain.CursorPage[domain.ProductConfiguration]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.ProductConfiguration]{}, err
			}
			result.NextPageToken = token
			break
		}
		result.Items = append(result.Items, decodeConfiguration(doc.ID, doc.Data))
	}
	return result, nil
}

func (r *ConfigurationRepository) Delete(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("configuration repository: product id is required")
	}
	// Surface a not-found instead of Firestore's silent delete of a missing doc.
	if _, err := r.base.Get(ctx, productID); err != nil {
		return err
	}
	return r.base.Delete(ctx, productID)
}

func encodeConfiguration(cfg domain.ProductConfiguration) configurationDocument {
	doc := configurationDocument{
		Name:      strings.TrimSpace(cfg.Name),
		Currency:  strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		Steps:     make([]stepDocument, 0, len(cfg.Steps)),
		CreatedAt: cfg.CreatedAt.UTC(),
		UpdatedAt: cfg.UpdatedAt.UTC(),
	}
	for _, step := range cfg.Steps {
		stepDoc := stepDocument{
			ID:            step.ID,
			Name:          step.Name,
			Required:      step.Required,
			AllowMultiple: step.AllowMultiple,
			Options:       make([]optionDocument, 0, len(step.Options)),
		}
		for _, option := range step.Options {
			optDoc := optionDocument{
				ID:            option.ID,
				Label:         option.Label,
				CatalogItemID: option.CatalogItemID,
				PriceOverride: option.PriceOverride,
				TaxRateBp:     option.TaxRateBp,
				Quantity:      option.Quantity,
				IsDefault:     option.IsDefault,
			}
			if option.Snapshot != nil {
				optDoc.Snapshot = &snapshotDocument{
					CatalogItemID: option.Snapshot.CatalogItemID,
					UnitPrice:     option.Snapshot.UnitPrice,
					Currency:      option.Snapshot.Currency,
					TaxRateBp:     option.Snapshot.TaxRateBp,
					CapturedAt:    option.Snapshot.CapturedAt.UTC(),
				}
			}
			stepDoc.Options = append(stepDoc.Options, optDoc)
		}
		doc.Steps = append(doc.Steps, stepDoc)
	}
	return doc
}

func decodeConfiguration(productID string, doc configurationDocument) domain.ProductConfiguration {
	cfg := domain.ProductConfiguration{
		ProductID: productID,
		Name:      doc.Name,
		Currency:  doc.Currency,
		Steps:     make([]domain.Step, 0, len(doc.Steps)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, stepDoc := range doc.Steps {
		step := domain.Step{
			ID:            stepDoc.ID,
			Name:          stepDoc.Name,
			Required:      stepDoc.Required,
			AllowMultiple: stepDoc.AllowMultiple,
			Options:       make([]domain.Option, 0, len(stepDoc.Options)),
		}
		for _, optDoc := range stepDoc.Options {
			option := domain.Option{
				ID:            optDoc.ID,
				Label:         optDoc.Label,
				CatalogItemID: optDoc.CatalogItemID,
				PriceOverride: optDoc.PriceOverride,
				TaxRateBp:     optDoc.TaxRateBp,
				Quantity:      optDoc.Quantity,
				IsDefault:     optDoc.IsDefault,
			}
			if optDoc.Snapshot != nil {
				option.Snapshot = &domain.PriceSnapshot{
					CatalogItemID: optDoc.Snapshot.CatalogItemID,
					UnitPrice:     optDoc.Snapshot.UnitPrice,
					Currency:      optDoc.Snapshot.Currency,
					TaxRateBp:     optDoc.Snapshot.TaxRateBp,
					CapturedAt:    optDoc.Snapshot.CapturedAt,
				}
			}
			step.Options = append(step.Options, option)
		}
		cfg.Steps = append(cfg.Steps, step)
	}
	return cfg
}
