package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/saunamo/configurator-api/internal/domain"
	repositories "github.com/saunamo/configurator-api/internal/repositories"
)

const (
	quoteEventCreated       = "quote.created"
	quoteEventStatusChanged = "quote.status.changed"

	quoteIDPrefix = "qt_"

	defaultQuoteValidityDays  = 30
	defaultQuoteNumberPrefix  = "SQ"
	defaultIdempotencyKeyTTL  = 24 * time.Hour
	quoteNumberCounterID      = "quotes"
	defaultExpirySweepLimit   = 100
	maxQuoteMetadataKeyLength = 64
)

var (
	// ErrQuoteInvalidInput signals the caller provided invalid data.
	ErrQuoteInvalidInput = errors.New("quote: invalid input")
	// ErrQuoteNotFound indicates the quote could not be located.
	ErrQuoteNotFound = errors.New("quote: not found")
	// ErrQuoteInvalidState indicates an illegal status transition was attempted.
	ErrQuoteInvalidState = errors.New("quote: invalid status transition")
	// ErrQuoteConflict indicates a duplicate insert or concurrent update.
	ErrQuoteConflict = errors.New("quote: conflict")
)

// quoteStateTransitions is the legal transition set. Pricing fields never
// change once a quote exists; a re-price is a new quote.
var quoteStateTransitions = map[domain.QuoteStatus][]domain.QuoteStatus{
	domain.QuoteStatusDraft: {domain.QuoteStatusSent},
	domain.QuoteStatusSent:  {domain.QuoteStatusAccepted, domain.QuoteStatusExpired},
}

// QuoteServiceDeps bundles collaborators required to construct the quote service.
type QuoteServiceDeps struct {
	Quotes         repositories.QuoteRepository
	Configurations ConfigurationService
	Validator      SelectionValidator
	Pricing        PricingEngine
	Counters       repositories.CounterRepository
	Idempotency    repositories.IdempotencyRepository
	Events         QuoteEventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
	ValidityDays   int
	NumberPrefix   string
	IdempotencyTTL time.Duration
}

type quoteService struct {
	quotes         repositories.QuoteRepository
	configurations ConfigurationService
	validator      SelectionValidator
	pricing        PricingEngine
	counters       repositories.CounterRepository
	idempotency    repositories.IdempotencyRepository
	events         QuoteEventPublisher
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
	validityDays   int
	numberPrefix   string
	idempotencyTTL time.Duration
}

// NewQuoteService wires dependencies into a concrete QuoteService implementation.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Quotes == nil {
		return nil, errors.New("quote service: quote repository is required")
	}
	if deps.Configurations == nil {
		return nil, errors.New("quote service: configuration service is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("quote service: selection validator is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("quote service: pricing engine is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("quote service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	validityDays := deps.ValidityDays
	if validityDays <= 0 {
		validityDays = defaultQuoteValidityDays
	}
	numberPrefix := strings.TrimSpace(deps.NumberPrefix)
	if numberPrefix == "" {
		numberPrefix = defaultQuoteNumberPrefix
	}
	idempotencyTTL := deps.IdempotencyTTL
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyKeyTTL
	}

	return &quoteService{
		quotes:         deps.Quotes,
		configurations: deps.Configurations,
		validator:      deps.Validator,
		pricing:        deps.Pricing,
		counters:       deps.Counters,
		idempotency:    deps.Idempotency,
		events:         deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		logger:         logger,
		validityDays:   validityDays,
		numberPrefix:   numberPrefix,
		idempotencyTTL: idempotencyTTL,
	}, nil
}

// Preview normalises and prices a selection without persisting anything. The
// wizard calls this on every step change.
func (s *quoteService) Preview(ctx context.Context, productID string, sel Selection) (PriceBreakdown, error) {
	_, _, breakdown, err := s.resolve(ctx, productID, sel)
	return breakdown, err
}

// Create builds and persists a new quote from a raw selection. When the
// command carries a request key, retried calls return the originally created
// quote instead of inserting a duplicate.
func (s *quoteService) Create(ctx context.Context, cmd CreateQuoteCommand) (Quote, error) {
	cfg, normalized, breakdown, err := s.resolve(ctx, cmd.ProductID, cmd.Selection)
	if err != nil {
		return Quote{}, err
	}
	if cmd.Customer != nil && strings.TrimSpace(cmd.Customer.Email) == "" && strings.TrimSpace(cmd.Customer.Name) == "" {
		return Quote{}, fmt.Errorf("%w: customer requires a name or email", ErrQuoteInvalidInput)
	}

	now := s.clock()
	validityDays := cmd.ValidDays
	if validityDays <= 0 {
		validityDays = s.validityDays
	}

	quote := Quote{
		ID:         quoteIDPrefix + s.newID(),
		ProductID:  cfg.ProductID,
		Selection:  normalized.Clone(),
		Breakdown:  breakdown,
		Customer:   cloneCustomer(cmd.Customer),
		Status:     domain.QuoteStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
		ValidUntil: now.AddDate(0, 0, validityDays),
		Metadata:   cloneQuoteMetadata(cmd.Metadata),
	}

	requestKey := strings.TrimSpace(cmd.RequestKey)
	if requestKey != "" && s.idempotency != nil {
		existingID, created, err := s.idempotency.Remember(ctx, requestKey, quote.ID, s.idempotencyTTL)
		if err != nil {
			return Quote{}, fmt.Errorf("quote: idempotency check: %w", err)
		}
		if !created {
			s.logger(ctx, "quote_create_replayed", map[string]any{"requestKey": requestKey, "quoteId": existingID})
			return s.Get(ctx, existingID)
		}
	}

	// From here on the request key is bound to a quote that does not exist
	// yet. Any failure must release the key, or retries replay a missing
	// quote until the TTL lapses.
	number, err := s.generateQuoteNumber(ctx, now)
	if err != nil {
		s.releaseRequestKey(ctx, requestKey)
		return Quote{}, err
	}
	quote.Number = number

	if err := s.quotes.Insert(ctx, quote); err != nil {
		s.releaseRequestKey(ctx, requestKey)
		return Quote{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, quote, quoteEventCreated)
	s.logger(ctx, "quote_created", map[string]any{"quoteId": quote.ID, "number": quote.Number, "productId": quote.ProductID, "total": quote.Breakdown.Total})
	return quote, nil
}

func (s *quoteService) Get(ctx context.Context, quoteID string) (Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return Quote{}, fmt.Errorf("%w: quote id is required", ErrQuoteInvalidInput)
	}
	quote, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		return Quote{}, s.mapRepositoryError(err)
	}
	return quote, nil
}

func (s *quoteService) List(ctx context.Context, query QuoteListQuery) (domain.CursorPage[Quote], error) {
	filter := repositories.QuoteListFilter{
		ProductID:     strings.TrimSpace(query.ProductID),
		Status:        query.Status,
		CustomerEmail: strings.ToLower(strings.TrimSpace(query.CustomerEmail)),
		Page:          query.Page,
		Order:         query.Order,
	}
	page, err := s.quotes.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Quote]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Send marks a draft quote as delivered to the customer.
func (s *quoteService) Send(ctx context.Context, quoteID string) (Quote, error) {
	return s.transition(ctx, quoteID, domain.QuoteStatusSent)
}

// Accept records the customer's acceptance. A quote whose validity has lapsed
// can no longer be accepted.
func (s *quoteService) Accept(ctx context.Context, quoteID string) (Quote, error) {
	return s.transition(ctx, quoteID, domain.QuoteStatusAccepted)
}

// Expire marks a sent quote as lapsed. Triggered externally; the core keeps no timer.
func (s *quoteService) Expire(ctx context.Context, quoteID string) (Quote, error) {
	return s.transition(ctx, quoteID, domain.QuoteStatusExpired)
}

// ExpireDue expires every sent quote whose validity lapsed before now and
// returns how many were transitioned. Invoked from the internal sweep endpoint.
func (s *quoteService) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpirySweepLimit
	}
	due, err := s.quotes.ListExpiring(ctx, s.clock(), limit)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	expired := 0
	for _, quote := range due {
		if quote.Status != domain.QuoteStatusSent {
			continue
		}
		if _, err := s.transition(ctx, quote.ID, domain.QuoteStatusExpired); err != nil {
			// Another writer may have raced the transition; skip and continue the sweep.
			if errors.Is(err, ErrQuoteInvalidState) || errors.Is(err, ErrQuoteConflict) {
				s.logger(ctx, "quote_expiry_skipped", map[string]any{"quoteId": quote.ID, "error": err.Error()})
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// resolve loads the configuration, normalises the raw selection, and prices it.
func (s *quoteService) resolve(ctx context.Context, productID string, sel Selection) (ProductConfiguration, Selection, PriceBreakdown, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductConfiguration{}, Selection{}, PriceBreakdown{}, fmt.Errorf("%w: product id is required", ErrQuoteInvalidInput)
	}

	cfg, err := s.configurations.Get(ctx, productID)
	if err != nil {
		return ProductConfiguration{}, Selection{}, PriceBreakdown{}, err
	}
	normalized, err := s.validator.Normalize(ctx, cfg, sel)
	if err != nil {
		return ProductConfiguration{}, Selection{}, PriceBreakdown{}, err
	}
	breakdown, err := s.pricing.Price(ctx, cfg, normalized)
	if err != nil {
		return ProductConfiguration{}, Selection{}, PriceBreakdown{}, err
	}
	return cfg, normalized, breakdown, nil
}

func (s *quoteService) transition(ctx context.Context, quoteID string, target domain.QuoteStatus) (Quote, error) {
	quote, err := s.Get(ctx, quoteID)
	if err != nil {
		return Quote{}, err
	}

	previous := quote.Status
	if previous == target {
		return quote, nil
	}
	if !canTransitionQuote(previous, target) {
		return Quote{}, fmt.Errorf("%w: %s to %s", ErrQuoteInvalidState, previous, target)
	}

	now := s.clock()
	if target == domain.QuoteStatusAccepted && now.After(quote.ValidUntil) {
		return Quote{}, fmt.Errorf("%w: validity lapsed at %s", ErrQuoteInvalidState, quote.ValidUntil.Format(time.RFC3339))
	}

	quote.Status = target
	quote.UpdatedAt = now
	switch target {
	case domain.QuoteStatusSent:
		quote.SentAt = &now
	case domain.QuoteStatusAccepted:
		quote.AcceptedAt = &now
	case domain.QuoteStatusExpired:
		quote.ExpiredAt = &now
	}

	if err := s.quotes.Update(ctx, quote); err != nil {
		return Quote{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, quote, quoteEventStatusChanged)
	s.logger(ctx, "quote_status_changed", map[string]any{"quoteId": quote.ID, "from": string(previous), "to": string(target)})
	return quote, nil
}

func canTransitionQuote(from, to domain.QuoteStatus) bool {
	for _, allowed := range quoteStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// releaseRequestKey unbinds a reserved request key after a failed create. A
// failed release is logged, not surfaced: the caller already has the create
// error, and the stale reservation expires with the TTL.
func (s *quoteService) releaseRequestKey(ctx context.Context, key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Forget(ctx, key); err != nil {
		s.logger(ctx, "quote_request_key_release_failed", map[string]any{"requestKey": key, "error": err.Error()})
	}
}

func (s *quoteService) generateQuoteNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, quoteNumberCounterID, 1)
	if err != nil {
		return "", fmt.Errorf("quote: next sequence: %w", err)
	}
	return fmt.Sprintf("%s-%04d-%06d", s.numberPrefix, now.Year(), seq), nil
}

func (s *quoteService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrQuoteNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrQuoteConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("quote: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *quoteService) publishEvent(ctx context.Context, quote Quote, event string) {
	if s.events == nil {
		return
	}
	message := QuoteEventMessage{
		Event:       event,
		QuoteID:     quote.ID,
		QuoteNumber: quote.Number,
		ProductID:   quote.ProductID,
		Status:      string(quote.Status),
		Total:       quote.Breakdown.Total,
		Currency:    quote.Breakdown.Currency,
		OccurredAt:  quote.UpdatedAt,
	}
	if _, err := s.events.PublishQuoteEvent(ctx, message); err != nil {
		s.logger(ctx, "quote_event_publish_failed", map[string]any{"event": event, "quoteId": quote.ID, "error": err.Error()})
	}
}

func cloneCustomer(customer *Customer) *Customer {
	if customer == nil {
		return nil
	}
	copied := *customer
	copied.Email = strings.ToLower(strings.TrimSpace(copied.Email))
	copied.Name = strings.TrimSpace(copied.Name)
	return &copied
}

func cloneQuoteMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if len(key) > maxQuoteMetadataKeyLength {
			continue
		}
		cloned[key] = value
	}
	return cloned
}
