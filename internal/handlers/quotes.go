package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/saunamo/configurator-api/internal/domain"
	"github.com/saunamo/configurator-api/internal/platform/httpx"
	"github.com/saunamo/configurator-api/internal/services"
)

const (
	maxQuoteBodySize     = 128 * 1024
	idempotencyKeyHeader = "Idempotency-Key"
)

// QuoteHandlers exposes quote previewing, creation, and lifecycle endpoints.
type QuoteHandlers struct {
	quotes services.QuoteService
}

// NewQuoteHandlers constructs handlers backed by the quote service.
func NewQuoteHandlers(quotes services.QuoteService) *QuoteHandlers {
	return &QuoteHandlers{quotes: quotes}
}

// Routes wires the quote endpoints onto the provided router.
func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createQuote)
	r.Post("/preview", h.previewQuote)
	r.Get("/", h.listQuotes)
	r.Get("/{quoteId}", h.getQuote)
	r.Post("/{quoteId}:send", h.sendQuote)
	r.Post("/{quoteId}:accept", h.acceptQuote)
	r.Post("/{quoteId}:expire", h.expireQuote)
}

// InternalRoutes wires maintenance endpoints invoked by schedulers.
func (h *QuoteHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quotes:expire-due", h.expireDueQuotes)
}

type customerPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
}

type lineItemPayload struct {
	StepID    string `json:"stepId"`
	OptionID  string `json:"optionId"`
	Label     string `json:"label"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	TaxRateBp int64  `json:"taxRateBp"`
	LineTotal int64  `json:"lineTotal"`
	LineTax   int64  `json:"lineTax"`
}

type appliedDiscountPayload struct {
	CampaignID string `json:"campaignId"`
	Label      string `json:"label"`
	Amount     int64  `json:"amount"`
}

type breakdownPayload struct {
	Currency         string                   `json:"currency"`
	LineItems        []lineItemPayload        `json:"lineItems"`
	Subtotal         int64                    `json:"subtotal"`
	DiscountTotal    int64                    `json:"discountTotal"`
	TotalTax         int64                    `json:"totalTax"`
	Total            int64                    `json:"total"`
	AppliedDiscounts []appliedDiscountPayload `json:"appliedDiscounts,omitempty"`
}

type quotePayload struct {
	ID         string           `json:"id"`
	Number     string           `json:"number"`
	ProductID  string           `json:"productId"`
	Selection  selectionPayload `json:"selection"`
	Breakdown  breakdownPayload `json:"breakdown"`
	Customer   *customerPayload `json:"customer,omitempty"`
	Status     string           `json:"status"`
	CreatedAt  string           `json:"createdAt"`
	UpdatedAt  string           `json:"updatedAt"`
	ValidUntil string           `json:"validUntil"`
	SentAt     string           `json:"sentAt,omitempty"`
	AcceptedAt string           `json:"acceptedAt,omitempty"`
	ExpiredAt  string           `json:"expiredAt,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

func buildBreakdownPayload(breakdown services.PriceBreakdown) breakdownPayload {
	payload := breakdownPayload{
		Currency:      breakdown.Currency,
		LineItems:     make([]lineItemPayload, 0, len(breakdown.LineItems)),
		Subtotal:      breakdown.Subtotal,
		DiscountTotal: breakdown.DiscountTotal,
		TotalTax:      breakdown.TotalTax,
		Total:         breakdown.Total,
	}
	for _, line := range breakdown.LineItems {
		payload.LineItems = append(payload.LineItems, lineItemPayload(line))
	}
	for _, discount := range breakdown.AppliedDiscounts {
		payload.AppliedDiscounts = append(payload.AppliedDiscounts, appliedDiscountPayload(discount))
	}
	return payload
}

func buildQuotePayload(quote services.Quote) quotePayload {
	payload := quotePayload{
		ID:         quote.ID,
		Number:     quote.Number,
		ProductID:  quote.ProductID,
		Selection:  buildSelectionPayload(quote.Selection),
		Breakdown:  buildBreakdownPayload(quote.Breakdown),
		Status:     string(quote.Status),
		CreatedAt:  formatTime(quote.CreatedAt),
		UpdatedAt:  formatTime(quote.UpdatedAt),
		ValidUntil: formatTime(quote.ValidUntil),
		SentAt:     formatTimePtr(quote.SentAt),
		AcceptedAt: formatTimePtr(quote.AcceptedAt),
		ExpiredAt:  formatTimePtr(quote.ExpiredAt),
		Metadata:   cloneMap(quote.Metadata),
	}
	if quote.Customer != nil {
		payload.Customer = &customerPayload{
			Name:    quote.Customer.Name,
			Email:   quote.Customer.Email,
			Phone:   quote.Customer.Phone,
			Company: quote.Customer.Company,
		}
	}
	return payload
}

type createQuoteRequest struct {
	ProductID  string              `json:"productId"`
	Chosen     map[string][]string `json:"chosen"`
	Customer   *customerPayload    `json:"customer"`
	ValidDays  int                 `json:"validDays"`
	Metadata   map[string]any      `json:"metadata"`
	RequestKey string              `json:"requestKey"`
}

func (h *QuoteHandlers) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxQuoteBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createQuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	requestKey := strings.TrimSpace(req.RequestKey)
	if requestKey == "" {
		requestKey = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	}

	cmd := services.CreateQuoteCommand{
		ProductID: req.ProductID,
		Selection: domain.Selection{
			ProductID: req.ProductID,
			Chosen:    req.Chosen,
		},
		ValidDays:  req.ValidDays,
		Metadata:   req.Metadata,
		RequestKey: requestKey,
	}
	if req.Customer != nil {
		cmd.Customer = &domain.Customer{
			Name:    req.Customer.Name,
			Email:   req.Customer.Email,
			Phone:   req.Customer.Phone,
			Company: req.Customer.Company,
		}
	}

	quote, err := h.quotes.Create(ctx, cmd)
	if err != nil {
		h.writeQuoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildQuotePayload(quote))
}

type previewQuoteRequest struct {
	ProductID string              `json:"productId"`
	Chosen    map[string][]string `json:"chosen"`
}

func (h *QuoteHandlers) previewQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxQuoteBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req previewQuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	breakdown, err := h.quotes.Preview(ctx, req.ProductID, domain.Selection{
		ProductID: req.ProductID,
		Chosen:    req.Chosen,
	})
	if err != nil {
		h.writeQuoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBreakdownPayload(breakdown))
}

func (h *QuoteHandlers) listQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ctx, pageReq, err := parsePagination(r)
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	query := services.QuoteListQuery{
		ProductID:     strings.TrimSpace(r.URL.Query().Get("productId")),
		Status:        domain.QuoteStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		CustomerEmail: strings.TrimSpace(r.URL.Query().Get("customerEmail")),
		Page:          pageReq,
	}
	if order := strings.TrimSpace(r.URL.Query().Get("order")); order != "" {
		query.Order = domain.SortOrder(order)
	}

	page, err := h.quotes.List(ctx, query)
	if err != nil {
		h.writeQuoteError(ctx, w, err)
		return
	}

	payload := struct {
		Items         []quotePayload `json:"items"`
		NextPageToken string         `json:"nextPageToken,omitempty"`
	}{
		Items:         make([]quotePayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, quote := range page.Items {
		payload.Items = append(payload.Items, buildQuotePayload(quote))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *QuoteHandlers) getQuote(w http.ResponseWriter, r *http.Request) {
	h.respondWithQuote(w, r, func(ctx context.Context, quoteID string) (services.Quote, error) {
		return h.quotes.Get(ctx, quoteID)
	})
}

func (h *QuoteHandlers) sendQuote(w http.ResponseWriter, r *http.Request) {
	h.respondWithQuote(w, r, func(ctx context.Context, quoteID string) (services.Quote, error) {
		return h.quotes.Send(ctx, quoteID)
	})
}

func (h *QuoteHandlers) acceptQuote(w http.ResponseWriter, r *http.Request) {
	h.respondWithQuote(w, r, func(ctx context.Context, quoteID string) (services.Quote, error) {
		return h.quotes.Accept(ctx, quoteID)
	})
}

func (h *QuoteHandlers) expireQuote(w http.ResponseWriter, r *http.Request) {
	h.respondWithQuote(w, r, func(ctx context.Context, quoteID string) (services.Quote, error) {
		return h.quotes.Expire(ctx, quoteID)
	})
}

func (h *QuoteHandlers) respondWithQuote(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (services.Quote, error)) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	quote, err := op(ctx, chi.URLParam(r, "quoteId"))
	if err != nil {
		h.writeQuoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildQuotePayload(quote))
}

func (h *QuoteHandlers) expireDueQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "quote service is unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	expired, err := h.quotes.ExpireDue(ctx, limit)
	if err != nil {
		h.writeQuoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"expired": expired})
}

func (h *QuoteHandlers) writeQuoteError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSelectionInvalid):
		writeSelectionError(ctx, w, err)
	case errors.Is(err, services.ErrPricingCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_currency_mismatch", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPricingNegativePrice), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_failed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrQuoteInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrQuoteNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("quote_not_found", "quote not found", http.StatusNotFound))
	case errors.Is(err, services.ErrQuoteInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("quote_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrQuoteConflict):
		httpx.WriteError(ctx, w, httpx.NewError("quote_conflict", "quote was modified concurrently; retry", http.StatusConflict))
	case isRepositoryNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("configuration_not_found", "configuration not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("quote_error", "quote request failed", http.StatusInternalServerError))
	}
}
