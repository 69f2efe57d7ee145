package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/saunamo/configurator-api/internal/domain"
	pfirestore "github.com/saunamo/configurator-api/internal/platform/firestore"
)

const campaignCollection = "discountCampaigns"

type campaignDocument struct {
	Label     string     `firestore:"label"`
	Type      string     `firestore:"type"`
	Amount    int64      `firestore:"amount"`
	PercentBp int64      `firestore:"percentBp"`
	Currency  string     `firestore:"currency,omitempty"`
	Priority  int        `firestore:"priority"`
	StartsAt  *time.Time `firestore:"startsAt,omitempty"`
	EndsAt    *time.Time `firestore:"endsAt,omitempty"`
	Active    bool       `firestore:"active"`
}

// CampaignRepository stores discount campaigns in Firestore.
type CampaignRepository struct {
	base *pfirestore.BaseRepository[campaignDocument]
}

// NewCampaignRepository constructs a Firestore-backed campaign repository.
func NewCampaignRepository(provider *pfirestore.Provider) (*CampaignRepository, error) {
	if provider == nil {
		return nil, errors.New("campaign repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[campaignDocument](provider, campaignCollection, nil, nil)
	return &CampaignRepository{base: base}, nil
}

func (r *CampaignRepository) Put(ctx context.Context, campaign domain.DiscountCampaign) error {
	campaignID := strings.TrimSpace(campaign.ID)
	if campaignID == "" {
		return errors.New("campaign repository: campaign id is required")
	}
	doc := campaignDocument{
		Label:     strings.TrimSpace(campaign.Label),
		Type:      string(campaign.Type),
		Amount:    campaign.Amount,
		PercentBp: campaign.PercentBp,
		Currency:  strings.ToUpper(strings.TrimSpace(campaign.Currency)),
		Priority:  campaign.Priority,
		Active:    campaign.Active,
	}
	if !campaign.StartsAt.IsZero() {
		startsAt := campaign.StartsAt.UTC()
		doc.StartsAt = &startsAt
	}
	if !campaign.EndsAt.IsZero() {
		endsAt := campaign.EndsAt.UTC()
		doc.EndsAt = &endsAt
	}
	_, err := r.base.Set(ctx, campaignID, doc)
	return err
}

func (r *CampaignRepository) FindByID(ctx context.Context, campaignID string) (domain.DiscountCampaign, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return domain.DiscountCampaign{}, errors.New("campaign repository: campaign id is required")
	}
	doc, err := r.base.Get(ctx, campaignID)
	if err != nil {
		return domain.DiscountCampaign{}, err
	}
	return decodeCampaign(doc.ID, doc.Data), nil
}

// ListActive fetches active campaigns and filters the validity window in
// memory. The collection stays small, so one equality filter beats a
// composite index per time-window predicate.
func (r *CampaignRepository) ListActive(ctx context.Context, at time.Time) ([]domain.DiscountCampaign, error) {
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.DiscountCampaign, 0, len(docs))
	for _, doc := range docs {
		campaign := decodeCampaign(doc.ID, doc.Data)
		if !campaign.AppliesAt(at.UTC()) {
			continue
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

func decodeCampaign(campaignID string, doc campaignDocument) domain.DiscountCampaign {
	campaign := domain.DiscountCampaign{
		ID:        campaignID,
		Label:     doc.Label,
		Type:      domain.DiscountType(doc.Type),
		Amount:    doc.Amount,
		PercentBp: doc.PercentBp,
		Currency:  doc.Currency,
		Priority:  doc.Priority,
		Active:    doc.Active,
	}
	if doc.StartsAt != nil {
		campaign.StartsAt = *doc.StartsAt
	}
	if doc.EndsAt != nil {
		campaign.EndsAt = *doc.EndsAt
	}
	return campaign
}
