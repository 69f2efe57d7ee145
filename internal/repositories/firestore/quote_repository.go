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
	"github.com/saunamo/configurator-api/internal/repositories"
)

const quoteCollection = "quotes"

type lineItemDocument struct {
	StepID    string `firestore:"stepId"`
	OptionID  string `firestore:"optionId"`
	Label     string `firestore:"label"`
	Quantity  int64  `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	TaxRateBp int64  `firestore:"taxRateBp"`
	LineTotal int64  `firestore:"lineTotal"`
	LineTax   int64  `firestore:"lineTax"`
}

type appliedDiscountDocument struct {
	CampaignID string `firestore:"campaignId"`
	Label      string `firestore:"label"`
	Amount     int64  `firestore:"amount"`
}

type breakdownDocument struct {
	Currency         string                    `firestore:"currency"`
	LineItems        []lineItemDocument        `firestore:"lineItems"`
	Subtotal         int64                     `firestore:"subtotal"`
	DiscountTotal    int64                     `firestore:"discountTotal"`
	TotalTax         int64                     `firestore:"totalTax"`
	Total            int64                     `firestore:"total"`
	AppliedDiscounts []appliedDiscountDocument `firestore:"appliedDiscounts,omitempty"`
}

type customerDocument struct {
	Name    string `firestore:"name,omitempty"`
	Email   string `firestore:"email,omitempty"`
	Phone   string `firestore:"phone,omitempty"`
	Company string `firestore:"company,omitempty"`
}

type quoteDocument struct {
	Number        string              `firestore:"number"`
	ProductID     string              `firestore:"productId"`
	Chosen        map[string][]string `firestore:"chosen"`
	Breakdown     breakdownDocument   `firestore:"breakdown"`
	Customer      *customerDocument   `firestore:"customer,omitempty"`
	CustomerEmail string              `firestore:"customerEmail,omitempty"`
	Status        string              `firestore:"status"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	ValidUntil    time.Time           `firestore:"validUntil"`
	SentAt        *time.Time          `firestore:"sentAt,omitempty"`
	AcceptedAt    *time.Time          `firestore:"acceptedAt,omitempty"`
	ExpiredAt     *time.Time          `firestore:"expiredAt,omitempty"`
	Metadata      map[string]any      `firestore:"metadata,omitempty"`
}

// QuoteRepository persists quotes in Firestore. Document ids carry a ULID, so
// id order equals creation order and listing never needs a separate index on
// createdAt.
type QuoteRepository struct {
	base *pfirestore.BaseRepository[quoteDocument]
}

// NewQuoteRepository constructs a Firestore-backed quote repository.
func NewQuoteRepository(provider *pfirestore.Provider) (*QuoteRepository, error) {
	if provider == nil {
		return nil, errors.New("quote repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[quoteDocument](provider, quoteCollection, nil, nil)
	return &QuoteRepository{base: base}, nil
}

// Insert writes a new quote and fails with a conflict when the id exists.
func (r *QuoteRepository) Insert(ctx context.Context, quote domain.Quote) error {
	quoteID := strings.TrimSpace(quote.ID)
	if quoteID == "" {
		return errors.New("quote repository: quote id is required")
	}
	_, err := r.base.Create(ctx, quoteID, encodeQuote(quote))
	return err
}

// Update rewrites the quote document. Callers only mutate status and its
// companion timestamps; pricing fields are written once at insert.
func (r *QuoteRepository) Update(ctx context.Context, quote domain.Quote) error {
	quoteID := strings.TrimSpace(quote.ID)
	if quoteID == "" {
		return errors.New("quote repository: quote id is required")
	}
	if _, err := r.base.Get(ctx, quoteID); err != nil {
		return err
	}
	_, err := r.base.Set(ctx, quoteID, encodeQuote(quote))
	return err
}

func (r *QuoteRepository) FindByID(ctx context.Context, quoteID string) (domain.Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return domain.Quote{}, errors.New("quote repository: quote id is required")
	}
	doc, err := r.base.Get(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	return decodeQuote(doc.ID, doc.Data), nil
}

func (r *QuoteRepository) List(ctx context.Context, filter repositories.QuoteListFilter) (domain.CursorPage[domain.Quote], error) {
	pageSize := filter.Page.PageSize
	if pageSize <= 0 {
		pageSize = pagination.FromContextOrDefault(ctx).PageSize
	}

	cursor, err := pagination.DecodeToken(filter.Page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Quote]{}, err
	}

	direction := firestore.Desc
	if filter.Order == domain.SortAsc {
		direction = firestore.Asc
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if filter.ProductID != "" {
			query = query.Where("productId", "==", filter.ProductID)
		}
		if filter.Status != "" {
			query = query.Where("status", "==", string(filter.Status))
		}
		if filter.CustomerEmail != "" {
			query = query.Where("customerEmail", "==", filter.CustomerEmail)
		}
		query = query.OrderBy(firestore.DocumentID, direction)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Quote]{}, err
	}

	result := domain.CursorPage[domain.Quote]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.Quote]{}, err
			}
			result.NextPageToken = token
			break
		}
		result.Items = append(result.Items, decodeQuote(doc.ID, doc.Data))
	}
	return result, nil
}

// ListExpiring returns sent quotes whose validity lapsed before the given
// instant. Requires the composite index on (status, validUntil).
func (r *QuoteRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.Quote, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("status", "==", string(domain.QuoteStatusSent)).
			Where("validUntil", "<", before.UTC()).
			OrderBy("validUntil", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	quotes := make([]domain.Quote, 0, len(docs))
	for _, doc := range docs {
		quotes = append(quotes, decodeQuote(doc.ID, doc.Data))
	}
	return quotes, nil
}

func encodeQuote(quote domain.Quote) quoteDocument {
	doc := quoteDocument{
		Number:     quote.Number,
		ProductID:  quote.ProductID,
		Chosen:     quote.Selection.Clone().Chosen,
		Breakdown:  encodeBreakdown(quote.Breakdown),
		Status:     string(quote.Status),
		CreatedAt:  quote.CreatedAt.UTC(),
		UpdatedAt:  quote.UpdatedAt.UTC(),
		ValidUntil: quote.ValidUntil.UTC(),
		SentAt:     utcPtr(quote.SentAt),
		AcceptedAt: utcPtr(quote.AcceptedAt),
		ExpiredAt:  utcPtr(quote.ExpiredAt),
		Metadata:   quote.Metadata,
	}
	if quote.Customer != nil {
		doc.Customer = &customerDocument{
			Name:    quote.Customer.Name,
			Email:   quote.Customer.Email,
			Phone:   quote.Customer.Phone,
			Company: quote.Customer.Company,
		}
		doc.CustomerEmail = strings.ToLower(strings.TrimSpace(quote.Customer.Email))
	}
	return doc
}

func decodeQuote(quoteID string, doc quoteDocument) domain.Quote {
	quote := domain.Quote{
		ID:         quoteID,
		Number:     doc.Number,
		ProductID:  doc.ProductID,
		Selection:  domain.Selection{ProductID: doc.ProductID, Chosen: doc.Chosen},
		Breakdown:  decodeBreakdown(doc.Breakdown),
		Status:     domain.QuoteStatus(doc.Status),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		ValidUntil: doc.ValidUntil,
		SentAt:     doc.SentAt,
		AcceptedAt: doc.AcceptedAt,
		ExpiredAt:  doc.ExpiredAt,
		Metadata:   doc.Metadata,
	}
	if doc.Customer != nil {
		quote.Customer = &domain.Customer{
			Name:    doc.Customer.Name,
			Email:   doc.Customer.Email,
			Phone:   doc.Customer.Phone,
			Company: doc.Customer.Company,
		}
	}
	return quote
}

func encodeBreakdown(breakdown domain.PriceBreakdown) breakdownDocument {
	doc := breakdownDocument{
		Currency:      breakdown.Currency,
		LineItems:     make([]lineItemDocument, 0, len(breakdown.LineItems)),
		Subtotal:      breakdown.Subtotal,
		DiscountTotal: breakdown.DiscountTotal,
		TotalTax:      breakdown.TotalTax,
		Total:         breakdown.Total,
	}
	for _, line := range breakdown.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument(line))
	}
	for _, applied := range breakdown.AppliedDiscounts {
		doc.AppliedDiscounts = append(doc.AppliedDiscounts, appliedDiscountDocument(applied))
	}
	return doc
}

func decodeBreakdown(doc breakdownDocument) domain.PriceBreakdown {
	breakdown := domain.PriceBreakdown{
		Currency:      doc.Currency,
		LineItems:     make([]domain.LineItem, 0, len(doc.LineItems)),
		Subtotal:      doc.Subtotal,
		DiscountTotal: doc.DiscountTotal,
		TotalTax:      doc.TotalTax,
		Total:         doc.Total,
	}
	for _, line := range doc.LineItems {
		breakdown.LineItems = append(breakdown.LineItems, domain.LineItem(line))
	}
	for _, applied := range doc.AppliedDiscounts {
		breakdown.AppliedDiscounts = append(breakdown.AppliedDiscounts, domain.AppliedDiscount(applied))
	}
	return breakdown
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
