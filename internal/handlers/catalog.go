package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saunamo/configurator-api/internal/catalog"
	"github.com/saunamo/configurator-api/internal/platform/httpx"
	"github.com/saunamo/configurator-api/internal/services"
)

const maxCatalogBodySize = 16 * 1024

// CatalogHandlers exposes upstream catalog reads and the admin product upload.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs handlers backed by the catalog service.
func NewCatalogHandlers(catalogService services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalogService}
}

// Routes wires the public catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{itemId}", h.getProduct)
}

// AdminRoutes wires the admin-only catalog endpoints onto the provided router.
func (h *CatalogHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/products", h.createProduct)
}

type catalogItemPayload struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Currency  string `json:"currency"`
	TaxRateBp int64  `json:"taxRateBp"`
}

func buildCatalogItemPayload(item services.CatalogItem) catalogItemPayload {
	return catalogItemPayload{
		ID:        item.ID,
		Name:      item.Name,
		SKU:       item.SKU,
		UnitPrice: item.UnitPrice,
		Currency:  item.Currency,
		TaxRateBp: item.TaxRateBp,
	}
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	items, err := h.catalog.ListProducts(ctx, strings.TrimSpace(r.URL.Query().Get("q")))
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	payload := struct {
		Items []catalogItemPayload `json:"items"`
	}{Items: make([]catalogItemPayload, 0, len(items))}
	for _, item := range items {
		payload.Items = append(payload.Items, buildCatalogItemPayload(item))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemId"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "itemId must be a positive integer", http.StatusBadRequest))
		return
	}

	item, err := h.catalog.GetProduct(ctx, itemID)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCatalogItemPayload(item))
}

type createProductRequest struct {
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
	TaxRatePercent string `json:"taxRatePercent"`
}

func (h *CatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCatalogBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	item, err := h.catalog.CreateProduct(ctx, services.CreateProductInput{
		Name:           req.Name,
		SKU:            req.SKU,
		Price:          req.Price,
		Currency:       req.Currency,
		TaxRatePercent: req.TaxRatePercent,
	})
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCatalogItemPayload(item))
}

func (h *CatalogHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput), errors.Is(err, catalog.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, catalog.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_item_not_found", "catalog item not found", http.StatusNotFound))
	case errors.Is(err, catalog.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "upstream catalog is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "catalog request failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
