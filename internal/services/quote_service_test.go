package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/saunamo/configurator-api/internal/domain"
	repositories "github.com/saunamo/configurator-api/internal/repositories"
)

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string       { return e.msg }
func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }

type fakeQuoteRepository struct {
	quotes    map[string]domain.Quote
	expiring  []domain.Quote
	inserts   int
	updates   int
	insertErr error
}

func newFakeQuoteRepository() *fakeQuoteRepository {
	return &fakeQuoteRepository{quotes: make(map[string]domain.Quote)}
}

func (f *fakeQuoteRepository) Insert(ctx context.Context, quote domain.Quote) error {
	if err := f.insertErr; err != nil {
		f.insertErr = nil
		return err
	}
	if _, exists := f.quotes[quote.ID]; exists {
		return errors.New("duplicate quote id")
	}
	f.quotes[quote.ID] = quote
	f.inserts++
	return nil
}

func (f *fakeQuoteRepository) Update(ctx context.Context, quote domain.Quote) error {
	if _, exists := f.quotes[quote.ID]; !exists {
		return &notFoundError{msg: "quote missing"}
	}
	f.quotes[quote.ID] = quote
	f.updates++
	return nil
}

func (f *fakeQuoteRepository) FindByID(ctx context.Context, quoteID string) (domain.Quote, error) {
	quote, ok := f.quotes[quoteID]
	if !ok {
		return domain.Quote{}, &notFoundError{msg: "quote missing"}
	}
	return quote, nil
}

func (f *fakeQuoteRepository) List(ctx context.Context, filter repositories.QuoteListFilter) (domain.CursorPage[domain.Quote], error) {
	page := domain.CursorPage[domain.Quote]{}
	for _, quote := range f.quotes {
		if filter.ProductID != "" && quote.ProductID != filter.ProductID {
			continue
		}
		if filter.Status != "" && quote.Status != filter.Status {
			continue
		}
		page.Items = append(page.Items, quote)
	}
	return page, nil
}

func (f *fakeQuoteRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.Quote, error) {
	if len(f.expiring) > limit {
		return f.expiring[:limit], nil
	}
	return f.expiring, nil
}

type fakeConfigurationSource struct {
	configs map[string]domain.ProductConfiguration
}

func (f *fakeConfigurationSource) Put(ctx context.Context, cfg domain.ProductConfiguration) (domain.ProductConfiguration, error) {
	f.configs[cfg.ProductID] = cfg
	return cfg, nil
}

func (f *fakeConfigurationSource) Get(ctx context.Context, productID string) (domain.ProductConfiguration, error) {
	cfg, ok := f.configs[productID]
	if !ok {
		return domain.ProductConfiguration{}, &notFoundError{msg: "configuration missing"}
	}
	return cfg, nil
}

func (f *fakeConfigurationSource) List(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.ProductConfiguration], error) {
	return domain.CursorPage[domain.ProductConfiguration]{}, nil
}

func (f *fakeConfigurationSource) Delete(ctx context.Context, productID string) error {
	delete(f.configs, productID)
	return nil
}

func (f *fakeConfigurationSource) Validate(ctx context.Context, productID string) ([]domain.Violation, error) {
	return nil, nil
}

func (f *fakeConfigurationSource) RefreshSnapshots(ctx context.Context, productID string) (domain.ProductConfiguration, error) {
	return f.Get(ctx, productID)
}

func (f *fakeConfigurationSource) DefaultSelection(ctx context.Context, productID string) (domain.Selection, error) {
	return domain.Selection{ProductID: productID}, nil
}

type fakeCounterRepository struct {
	value int64
}

func (f *fakeCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	f.value += step
	return f.value, nil
}

type fakeIdempotencyRepository struct {
	keys map[string]string
}

func (f *fakeIdempotencyRepository) Remember(ctx context.Context, key, quoteID string, ttl time.Duration) (string, bool, error) {
	if existing, ok := f.keys[key]; ok {
		return existing, false, nil
	}
	if f.keys == nil {
		f.keys = make(map[string]string)
	}
	f.keys[key] = quoteID
	return quoteID, true, nil
}

func (f *fakeIdempotencyRepository) Forget(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type fakeQuotePublisher struct {
	messages []QuoteEventMessage
	err      error
}

func (f *fakeQuotePublisher) PublishQuoteEvent(ctx context.Context, message QuoteEventMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, message)
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

type quoteServiceFixture struct {
	service QuoteService
	quotes  *fakeQuoteRepository
	events  *fakeQuotePublisher
	clock   time.Time
}

func newQuoteServiceFixture(t *testing.T) *quoteServiceFixture {
	t.Helper()

	clock := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	quotes := newFakeQuoteRepository()
	events := &fakeQuotePublisher{}
	configs := &fakeConfigurationSource{configs: map[string]domain.ProductConfiguration{
		"sauna-cabin-m": heaterConfig(),
	}}

	engine, err := NewQuotePricingEngine(QuotePricingEngineDeps{Now: func() time.Time { return clock }})
	if err != nil {
		t.Fatalf("NewQuotePricingEngine error: %v", err)
	}

	seq := 0
	service, err := NewQuoteService(QuoteServiceDeps{
		Quotes:         quotes,
		Configurations: configs,
		Validator:      NewWizardSelectionValidator(),
		Pricing:        engine,
		Counters:       &fakeCounterRepository{},
		Idempotency:    &fakeIdempotencyRepository{},
		Events:         events,
		Clock:          func() time.Time { return clock },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("01TESTULID%06d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewQuoteService error: %v", err)
	}

	return &quoteServiceFixture{service: service, quotes: quotes, events: events, clock: clock}
}

func TestQuoteServiceCreate(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	quote, err := fx.service.Create(context.Background(), CreateQuoteCommand{
		ProductID: "sauna-cabin-m",
		Selection: Selection{Chosen: map[string][]string{"heater": {"h1"}}},
		Customer:  &Customer{Name: "Anu Koskinen", Email: "ANU@Example.com"},
		Metadata:  map[string]any{"channel": "showroom"},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if quote.ID != "qt_01TESTULID000001" {
		t.Fatalf("unexpected quote id %q", quote.ID)
	}
	if quote.Number != "SQ-2026-000001" {
		t.Fatalf("unexpected quote number %q", quote.Number)
	}
	if quote.Status != domain.QuoteStatusDraft {
		t.Fatalf("new quotes must be drafts, got %q", quote.Status)
	}
	if want := fx.clock.AddDate(0, 0, 30); !quote.ValidUntil.Equal(want) {
		t.Fatalf("unexpected validity: want %v, got %v", want, quote.ValidUntil)
	}
	if quote.Breakdown.Total != 60500 {
		t.Fatalf("unexpected total %d", quote.Breakdown.Total)
	}
	if quote.Customer.Email != "anu@example.com" {
		t.Fatalf("customer email should be normalised, got %q", quote.Customer.Email)
	}
	if len(fx.events.messages) != 1 || fx.events.messages[0].Event != "quote.created" {
		t.Fatalf("expected quote.created event, got %+v", fx.events.messages)
	}
	if fx.quotes.inserts != 1 {
		t.Fatalf("expected one insert, got %d", fx.quotes.inserts)
	}
}

func TestQuoteServiceCreateReplaysIdempotentRequest(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	cmd := CreateQuoteCommand{
		ProductID:  "sauna-cabin-m",
		Selection:  Selection{Chosen: map[string][]string{"heater": {"h1"}}},
		RequestKey: "req-abc",
	}

	first, err := fx.service.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first Create error: %v", err)
	}
	second, err := fx.service.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second Create error: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("retry must return the original quote: %q vs %q", first.ID, second.ID)
	}
	if fx.quotes.inserts != 1 {
		t.Fatalf("retry must not insert again, got %d inserts", fx.quotes.inserts)
	}
}

func TestQuoteServiceCreateRetriesAfterFailedInsert(t *testing.T) {
	fx := newQuoteServiceFixture(t)
	fx.quotes.insertErr = errors.New("firestore unavailable")

	cmd := CreateQuoteCommand{
		ProductID:  "sauna-cabin-m",
		Selection:  Selection{Chosen: map[string][]string{"heater": {"h1"}}},
		RequestKey: "req-abc",
	}

	if _, err := fx.service.Create(context.Background(), cmd); err == nil {
		t.Fatal("expected the first Create to fail")
	}

	// A failed insert must release the request key, or the retry replays a
	// quote that was never stored.
	quote, err := fx.service.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("retry after failed insert: %v", err)
	}
	if _, ok := fx.quotes.quotes[quote.ID]; !ok {
		t.Fatalf("retry must store quote %q", quote.ID)
	}
	if fx.quotes.inserts != 1 {
		t.Fatalf("expected exactly one stored quote, got %d", fx.quotes.inserts)
	}
}

func TestQuoteServiceCreateRejectsInvalidSelection(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	_, err := fx.service.Create(context.Background(), CreateQuoteCommand{
		ProductID: "sauna-cabin-m",
		Selection: Selection{Chosen: map[string][]string{"lighting": {"l1"}}},
	})
	if !errors.Is(err, ErrSelectionInvalid) {
		t.Fatalf("expected selection error, got %v", err)
	}
	if fx.quotes.inserts != 0 {
		t.Fatalf("invalid selection must not persist a quote")
	}
}

func TestQuoteServicePreviewDoesNotPersist(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	breakdown, err := fx.service.Preview(context.Background(), "sauna-cabin-m", Selection{Chosen: map[string][]string{"heater": {"h1"}}})
	if err != nil {
		t.Fatalf("Preview error: %v", err)
	}
	if breakdown.Total != 60500 {
		t.Fatalf("unexpected total %d", breakdown.Total)
	}
	if fx.quotes.inserts != 0 {
		t.Fatalf("preview must not persist")
	}
}

func TestQuoteServiceStatusTransitions(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	quote, err := fx.service.Create(context.Background(), CreateQuoteCommand{
		ProductID: "sauna-cabin-m",
		Selection: Selection{Chosen: map[string][]string{"heater": {"h1"}}},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := fx.service.Accept(context.Background(), quote.ID); !errors.Is(err, ErrQuoteInvalidState) {
		t.Fatalf("draft cannot be accepted, got %v", err)
	}

	sent, err := fx.service.Send(context.Background(), quote.ID)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sent.Status != domain.QuoteStatusSent || sent.SentAt == nil {
		t.Fatalf("unexpected sent quote: %+v", sent)
	}

	accepted, err := fx.service.Accept(context.Background(), quote.ID)
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if accepted.Status != domain.QuoteStatusAccepted || accepted.AcceptedAt == nil {
		t.Fatalf("unexpected accepted quote: %+v", accepted)
	}

	if _, err := fx.service.Expire(context.Background(), quote.ID); !errors.Is(err, ErrQuoteInvalidState) {
		t.Fatalf("accepted quote cannot expire, got %v", err)
	}

	// created + sent + accepted
	if len(fx.events.messages) != 3 {
		t.Fatalf("expected 3 events, got %d", len(fx.events.messages))
	}
	last := fx.events.messages[len(fx.events.messages)-1]
	if last.Event != "quote.status.changed" || last.Status != "accepted" {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestQuoteServiceAcceptRejectsLapsedQuote(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	quote, err := fx.service.Create(context.Background(), CreateQuoteCommand{
		ProductID: "sauna-cabin-m",
		Selection: Selection{Chosen: map[string][]string{"heater": {"h1"}}},
		ValidDays: 7,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := fx.service.Send(context.Background(), quote.ID); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	// Backdate validity to simulate a lapsed quote.
	stored := fx.quotes.quotes[quote.ID]
	stored.ValidUntil = fx.clock.AddDate(0, 0, -1)
	fx.quotes.quotes[quote.ID] = stored

	if _, err := fx.service.Accept(context.Background(), quote.ID); !errors.Is(err, ErrQuoteInvalidState) {
		t.Fatalf("lapsed quote must not be acceptable, got %v", err)
	}
}

func TestQuoteServiceExpireDue(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	var due []domain.Quote
	for i := 0; i < 3; i++ {
		quote, err := fx.service.Create(context.Background(), CreateQuoteCommand{
			ProductID: "sauna-cabin-m",
			Selection: Selection{Chosen: map[string][]string{"heater": {"h1"}}},
		})
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if i < 2 {
			sent, err := fx.service.Send(context.Background(), quote.ID)
			if err != nil {
				t.Fatalf("Send error: %v", err)
			}
			due = append(due, sent)
		} else {
			// Drafts past validity are not swept; only sent quotes expire.
			due = append(due, fx.quotes.quotes[quote.ID])
		}
	}
	fx.quotes.expiring = due

	expired, err := fx.service.ExpireDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ExpireDue error: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired quotes, got %d", expired)
	}
	for _, quote := range due[:2] {
		if got := fx.quotes.quotes[quote.ID].Status; got != domain.QuoteStatusExpired {
			t.Fatalf("quote %s should be expired, got %q", quote.ID, got)
		}
	}
}

func TestQuoteServiceGetUnknownQuote(t *testing.T) {
	fx := newQuoteServiceFixture(t)

	if _, err := fx.service.Get(context.Background(), "qt_missing"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}
}
