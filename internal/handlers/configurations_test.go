package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/saunamo/configurator-api/internal/domain"
	"github.com/saunamo/configurator-api/internal/services"
)

type stubConfigurationService struct {
	putFunc              func(ctx context.Context, cfg services.ProductConfiguration) (services.ProductConfiguration, error)
	getFunc              func(ctx context.Context, productID string) (services.ProductConfiguration, error)
	listFunc             func(ctx context.Context, page services.Pagination) (domain.CursorPage[services.ProductConfiguration], error)
	deleteFunc           func(ctx context.Context, productID string) error
	validateFunc         func(ctx context.Context, productID string) ([]services.Violation, error)
	refreshFunc          func(ctx context.Context, productID string) (services.ProductConfiguration, error)
	defaultSelectionFunc func(ctx context.Context, productID string) (services.Selection, error)
}

func (s *stubConfigurationService) Put(ctx context.Context, cfg services.ProductConfiguration) (services.ProductConfiguration, error) {
	if s.putFunc == nil {
		return cfg, nil
	}
	return s.putFunc(ctx, cfg)
}

func (s *stubConfigurationService) Get(ctx context.Context, productID string) (services.ProductConfiguration, error) {
	if s.getFunc == nil {
		return services.ProductConfiguration{}, nil
	}
	return s.getFunc(ctx, productID)
}

func (s *stubConfigurationService) List(ctx context.Context, page services.Pagination) (domain.CursorPage[services.ProductConfiguration], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.ProductConfiguration]{}, nil
	}
	return s.listFunc(ctx, page)
}

func (s *stubConfigurationService) Delete(ctx context.Context, productID string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, productID)
}

func (s *stubConfigurationService) Validate(ctx context.Context, productID string) ([]services.Violation, error) {
	if s.validateFunc == nil {
		return nil, nil
	}
	return s.validateFunc(ctx, productID)
}

func (s *stubConfigurationService) RefreshSnapshots(ctx context.Context, productID string) (services.ProductConfiguration, error) {
	if s.refreshFunc == nil {
		return services.ProductConfiguration{}, nil
	}
	return s.refreshFunc(ctx, productID)
}

func (s *stubConfigurationService) DefaultSelection(ctx context.Context, productID string) (services.Selection, error) {
	if s.defaultSelectionFunc == nil {
		return services.Selection{}, nil
	}
	return s.defaultSelectionFunc(ctx, productID)
}

func sampleConfiguration(now time.Time) services.ProductConfiguration {
	price := int64(50000)
	return services.ProductConfiguration{
		ProductID: "sauna-cabin-m",
		Name:      "Sauna Cabin M",
		Currency:  "EUR",
		Steps: []domain.Step{
			{
				ID:       "heater",
				Name:     "Heater",
				Required: true,
				Options: []domain.Option{
					{ID: "h1", Label: "Harvia 8kW", PriceOverride: &price, TaxRateBp: 2100},
				},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newConfigurationRouter(service services.ConfigurationService) chi.Router {
	handler := NewConfigurationHandlers(service, services.NewWizardSelectionValidator())
	router := chi.NewRouter()
	router.Route("/configurations", handler.Routes)
	router.Route("/admin", handler.AdminRoutes)
	return router
}

func TestConfigurationHandlersGetConfiguration(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	service := &stubConfigurationService{
		getFunc: func(ctx context.Context, productID string) (services.ProductConfiguration, error) {
			if productID != "sauna-cabin-m" {
				t.Fatalf("unexpected product id %q", productID)
			}
			return sampleConfiguration(now), nil
		},
	}

	router := newConfigurationRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/configurations/sauna-cabin-m", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload configurationPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.ProductID != "sauna-cabin-m" {
		t.Fatalf("unexpected product id %q", payload.ProductID)
	}
	if len(payload.Steps) != 1 || len(payload.Steps[0].Options) != 1 {
		t.Fatalf("unexpected steps payload %+v", payload.Steps)
	}
	if payload.Steps[0].Options[0].PriceOverride == nil || *payload.Steps[0].Options[0].PriceOverride != 50000 {
		t.Fatalf("unexpected price override %+v", payload.Steps[0].Options[0].PriceOverride)
	}
}

func TestConfigurationHandlersPutConfigurationInvalidModel(t *testing.T) {
	service := &stubConfigurationService{
		putFunc: func(ctx context.Context, cfg services.ProductConfiguration) (services.ProductConfiguration, error) {
			return services.ProductConfiguration{}, &services.ConfigurationValidationError{
				ProductID: cfg.ProductID,
				Violations: []domain.Violation{
					{Kind: domain.ViolationRequiredStepWithNoOptions, StepID: "heater"},
				},
			}
		},
	}

	router := newConfigurationRouter(service)

	body := `{"name":"Broken","currency":"EUR","steps":[{"id":"heater","name":"Heater","required":true,"options":[]}]}`
	req := httptest.NewRequest(http.MethodPut, "/admin/configurations/broken", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["error"] != "configuration_invalid" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	violations, ok := payload["violations"].([]any)
	if !ok || len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", payload["violations"])
	}
}

func TestConfigurationHandlersPutConfigurationPathMismatch(t *testing.T) {
	router := newConfigurationRouter(&stubConfigurationService{})

	body := `{"productId":"other","name":"X","currency":"EUR"}`
	req := httptest.NewRequest(http.MethodPut, "/admin/configurations/sauna-cabin-m", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestConfigurationHandlersNormalizeSelection(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	service := &stubConfigurationService{
		getFunc: func(ctx context.Context, productID string) (services.ProductConfiguration, error) {
			return sampleConfiguration(now), nil
		},
	}

	router := newConfigurationRouter(service)

	body := `{"chosen":{"heater":["h1","h1"]}}`
	req := httptest.NewRequest(http.MethodPost, "/configurations/sauna-cabin-m:normalize", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload selectionPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Chosen["heater"]) != 1 || payload.Chosen["heater"][0] != "h1" {
		t.Fatalf("expected deduplicated selection, got %v", payload.Chosen["heater"])
	}
}

func TestConfigurationHandlersNormalizeSelectionUnknownOption(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	service := &stubConfigurationService{
		getFunc: func(ctx context.Context, productID string) (services.ProductConfiguration, error) {
			return sampleConfiguration(now), nil
		},
	}

	router := newConfigurationRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/configurations/sauna-cabin-m:normalize", strings.NewReader(`{"chosen":{"heater":["ghost"]}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "unknown_option" {
		t.Fatalf("unexpected selection code %v", payload["code"])
	}
	if payload["stepId"] != "heater" {
		t.Fatalf("unexpected step id %v", payload["stepId"])
	}
}

func TestConfigurationHandlersDefaultSelection(t *testing.T) {
	service := &stubConfigurationService{
		defaultSelectionFunc: func(ctx context.Context, productID string) (services.Selection, error) {
			return domain.Selection{
				ProductID: productID,
				Chosen:    map[string][]string{"heater": {"h1"}},
			}, nil
		},
	}

	router := newConfigurationRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/configurations/sauna-cabin-m/default-selection", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload selectionPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Chosen["heater"][0] != "h1" {
		t.Fatalf("unexpected default selection %v", payload.Chosen)
	}
}

func TestConfigurationHandlersDeleteConfiguration(t *testing.T) {
	deleted := ""
	service := &stubConfigurationService{
		deleteFunc: func(ctx context.Context, productID string) error {
			deleted = productID
			return nil
		},
	}

	router := newConfigurationRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/admin/configurations/sauna-cabin-m", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deleted != "sauna-cabin-m" {
		t.Fatalf("unexpected deleted product %q", deleted)
	}
}
