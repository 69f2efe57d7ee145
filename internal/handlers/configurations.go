package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saunamo/configurator-api/internal/catalog"
	domain "github.com/saunamo/configurator-api/internal/domain"
	"github.com/saunamo/configurator-api/internal/platform/httpx"
	"github.com/saunamo/configurator-api/internal/repositories"
	"github.com/saunamo/configurator-api/internal/services"
)

const maxConfigurationBodySize = 256 * 1024

// ConfigurationHandlers exposes the wizard-facing configuration reads and the
// admin model editing endpoints.
type ConfigurationHandlers struct {
	configurations services.ConfigurationService
	validator      services.SelectionValidator
}

// NewConfigurationHandlers constructs handlers backed by the configuration service.
func NewConfigurationHandlers(configurations services.ConfigurationService, validator services.SelectionValidator) *ConfigurationHandlers {
	return &ConfigurationHandlers{
		configurations: configurations,
		validator:      validator,
	}
}

// Routes wires the public configuration endpoints onto the provided router.
func (h *ConfigurationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listConfigurations)
	r.Get("/{productId}", h.getConfiguration)
	r.Get("/{productId}/default-selection", h.defaultSelection)
	r.Post("/{productId}:normalize", h.normalizeSelection)
}

// AdminRoutes wires the admin configuration endpoints onto the provided router.
func (h *ConfigurationHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/configurations/{productId}", h.putConfiguration)
	r.Delete("/configurations/{productId}", h.deleteConfiguration)
	r.Post("/configurations/{productId}:refresh-snapshots", h.refreshSnapshots)
	r.Get("/configurations/{productId}/violations", h.listViolations)
}

type snapshotPayload struct {
	CatalogItemID int64  `json:"catalogItemId"`
	UnitPrice     int64  `json:"unitPrice"`
	Currency      string `json:"currency"`
	TaxRateBp     int64  `json:"taxRateBp"`
	CapturedAt    string `json:"capturedAt"`
}

type optionPayload struct {
	ID            string           `json:"id"`
	Label         string           `json:"label"`
	CatalogItemID *int64           `json:"catalogItemId,omitempty"`
	PriceOverride *int64           `json:"priceOverride,omitempty"`
	TaxRateBp     int64            `json:"taxRateBp"`
	Quantity      int              `json:"quantity,omitempty"`
	IsDefault     bool             `json:"isDefault,omitempty"`
	Snapshot      *snapshotPayload `json:"snapshot,omitempty"`
}

type stepPayload struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Required      bool            `json:"required"`
	AllowMultiple bool            `json:"allowMultiple"`
	Options       []optionPayload `json:"options"`
}

type configurationPayload struct {
	ProductID string        `json:"productId"`
	Name      string        `json:"name"`
	Currency  string        `json:"currency"`
	Steps     []stepPayload `json:"steps"`
	CreatedAt string        `json:"createdAt,omitempty"`
	UpdatedAt string        `json:"updatedAt,omitempty"`
}

type selectionPayload struct {
	ProductID string              `json:"productId"`
	Chosen    map[string][]string `json:"chosen"`
}

type violationPayload struct {
	Kind     string `json:"kind"`
	StepID   string `json:"stepId,omitempty"`
	OptionID string `json:"optionId,omitempty"`
}

func buildConfigurationPayload(cfg services.ProductConfiguration) configurationPayload {
	payload := configurationPayload{
		ProductID: cfg.ProductID,
		Name:      cfg.Name,
		Currency:  cfg.Currency,
		Steps:     make([]stepPayload, 0, len(cfg.Steps)),
		CreatedAt: formatTime(cfg.CreatedAt),
		UpdatedAt: formatTime(cfg.UpdatedAt),
	}
	for _, step := range cfg.Steps {
		stepOut := stepPayload{
			ID:            step.ID,
			Name:          step.Name,
			Required:      step.Required,
			AllowMultiple: step.AllowMultiple,
			Options:       make([]optionPayload, 0, len(step.Options)),
		}
		for _, option := range step.Options {
			optionOut := optionPayload{
				ID:            option.ID,
				Label:         option.Label,
				CatalogItemID: option.CatalogItemID,
				PriceOverride: option.PriceOverride,
				TaxRateBp:     option.TaxRateBp,
				Quantity:      option.Quantity,
				IsDefault:     option.IsDefault,
			}
			if option.Snapshot != nil {
				optionOut.Snapshot = &snapshotPayload{
					CatalogItemID: option.Snapshot.CatalogItemID,
					UnitPrice:     option.Snapshot.UnitPrice,
					Currency:      option.Snapshot.Currency,
					TaxRateBp:     option.Snapshot.TaxRateBp,
					CapturedAt:    formatTime(option.Snapshot.CapturedAt),
				}
			}
			stepOut.Options = append(stepOut.Options, optionOut)
		}
		payload.Steps = append(payload.Steps, stepOut)
	}
	return payload
}

func buildSelectionPayload(sel services.Selection) selectionPayload {
	payload := selectionPayload{
		ProductID: sel.ProductID,
		Chosen:    make(map[string][]string, len(sel.Chosen)),
	}
	for stepID, optionIDs := range sel.Chosen {
		payload.Chosen[stepID] = append([]string(nil), optionIDs...)
	}
	return payload
}

func (h *ConfigurationHandlers) listConfigurations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ctx, pageReq, err := parsePagination(r)
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	page, err := h.configurations.List(ctx, pageReq)
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}

	payload := struct {
		Items         []configurationPayload `json:"items"`
		NextPageToken string                 `json:"nextPageToken,omitempty"`
	}{
		Items:         make([]configurationPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, cfg := range page.Items {
		payload.Items = append(payload.Items, buildConfigurationPayload(cfg))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *ConfigurationHandlers) getConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cfg, err := h.configurations.Get(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildConfigurationPayload(cfg))
}

func (h *ConfigurationHandlers) defaultSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sel, err := h.configurations.DefaultSelection(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSelectionPayload(sel))
}

func (h *ConfigurationHandlers) normalizeSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil || h.validator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := chi.URLParam(r, "productId")
	body, err := readLimitedBody(r, maxConfigurationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req selectionPayload
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cfg, err := h.configurations.Get(ctx, productID)
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}

	normalized, err := h.validator.Normalize(ctx, cfg, domain.Selection{
		ProductID: productID,
		Chosen:    req.Chosen,
	})
	if err != nil {
		writeSelectionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSelectionPayload(normalized))
}

func (h *ConfigurationHandlers) putConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	body, err := readLimitedBody(r, maxConfigurationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req configurationPayload
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.ProductID != "" && req.ProductID != productID {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body productId does not match path", http.StatusBadRequest))
		return
	}

	cfg := domain.ProductConfiguration{
		ProductID: productID,
		Name:      req.Name,
		Currency:  req.Currency,
		Steps:     make([]domain.Step, 0, len(req.Steps)),
	}
	for _, step := range req.Steps {
		stepIn := domain.Step{
			ID:            step.ID,
			Name:          step.Name,
			Required:      step.Required,
			AllowMultiple: step.AllowMultiple,
			Options:       make([]domain.Option, 0, len(step.Options)),
		}
		for _, option := range step.Options {
			stepIn.Options = append(stepIn.Options, domain.Option{
				ID:            option.ID,
				Label:         option.Label,
				CatalogItemID: option.CatalogItemID,
				PriceOverride: option.PriceOverride,
				TaxRateBp:     option.TaxRateBp,
				Quantity:      option.Quantity,
				IsDefault:     option.IsDefault,
			})
		}
		cfg.Steps = append(cfg.Steps, stepIn)
	}

	saved, err := h.configurations.Put(ctx, cfg)
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildConfigurationPayload(saved))
}

func (h *ConfigurationHandlers) deleteConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.configurations.Delete(ctx, chi.URLParam(r, "productId")); err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConfigurationHandlers) refreshSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cfg, err := h.configurations.RefreshSnapshots(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildConfigurationPayload(cfg))
}

func (h *ConfigurationHandlers) listViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configuration_unavailable", "configuration service is unavailable", http.StatusServiceUnavailable))
		return
	}

	violations, err := h.configurations.Validate(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		h.writeConfigurationError(ctx, w, err)
		return
	}

	payload := struct {
		Violations []violationPayload `json:"violations"`
	}{Violations: buildViolationPayloads(violations)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func buildViolationPayloads(violations []domain.Violation) []violationPayload {
	out := make([]violationPayload, 0, len(violations))
	for _, violation := range violations {
		out = append(out, violationPayload{
			Kind:     string(violation.Kind),
			StepID:   violation.StepID,
			OptionID: violation.OptionID,
		})
	}
	return out
}

func (h *ConfigurationHandlers) writeConfigurationError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ConfigurationValidationError
	switch {
	case errors.As(err, &validationErr):
		httpErr := httpx.NewError("configuration_invalid", "configuration model failed validation", http.StatusUnprocessableEntity)
		details := make([]map[string]any, 0, len(validationErr.Violations))
		for _, violation := range validationErr.Violations {
			details = append(details, map[string]any{
				"kind":     string(violation.Kind),
				"stepId":   violation.StepID,
				"optionId": violation.OptionID,
			})
		}
		httpx.WriteError(ctx, w, httpErr.WithDetails(map[string]any{"violations": details}))
	case errors.Is(err, services.ErrConfigurationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, catalog.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_item_not_found", "referenced catalog item does not exist", http.StatusUnprocessableEntity))
	case errors.Is(err, catalog.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "upstream catalog is unavailable", http.StatusBadGateway))
	case isRepositoryNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("configuration_not_found", "configuration not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("configuration_error", "configuration request failed", http.StatusInternalServerError))
	}
}

func writeSelectionError(ctx context.Context, w http.ResponseWriter, err error) {
	var selectionErr *services.SelectionError
	if errors.As(err, &selectionErr) {
		httpErr := httpx.NewError("selection_invalid", selectionErr.Error(), http.StatusUnprocessableEntity)
		httpx.WriteError(ctx, w, httpErr.WithDetails(map[string]any{
			"code":     string(selectionErr.Code),
			"stepId":   selectionErr.StepID,
			"optionId": selectionErr.OptionID,
		}))
		return
	}
	if errors.Is(err, services.ErrSelectionInvalid) {
		httpx.WriteError(ctx, w, httpx.NewError("selection_invalid", err.Error(), http.StatusUnprocessableEntity))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("selection_error", "failed to normalise selection", http.StatusInternalServerError))
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
