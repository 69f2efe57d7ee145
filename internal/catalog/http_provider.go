package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/saunamo/configurator-api/internal/domain"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultUserAgent       = "saunamo-configurator/1.0"
	maxCatalogResponseSize = 1 << 20
)

// Logger defines the logging hook used by the HTTP provider.
type Logger func(ctx context.Context, event string, fields map[string]any)

// HTTPProviderConfig configures the HTTP catalog provider.
type HTTPProviderConfig struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
	Logger     Logger
	UserAgent  string
}

// HTTPProvider implements Provider against the retailer's REST catalog
// service. Responses are mapped into closed CatalogItem records exactly once,
// at fetch time; nothing downstream re-inspects the wire payload.
type HTTPProvider struct {
	base   *url.URL
	token  string
	client *http.Client
	logger Logger
	agent  string
}

// NewHTTPProvider constructs an HTTPProvider from the given configuration.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("catalog: base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("catalog: base url must be absolute: %q", base)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	agent := strings.TrimSpace(cfg.UserAgent)
	if agent == "" {
		agent = defaultUserAgent
	}

	return &HTTPProvider{
		base:   parsed,
		token:  strings.TrimSpace(cfg.APIToken),
		client: client,
		logger: logger,
		agent:  agent,
	}, nil
}

type productEnvelope struct {
	Product productPayload `json:"product"`
}

type productListEnvelope struct {
	Products []productPayload `json:"products"`
}

type productPayload struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
	TaxRatePercent string `json:"tax_rate_percent"`
}

// FetchProduct retrieves a single catalog item by its upstream id.
func (p *HTTPProvider) FetchProduct(ctx context.Context, id int64) (domain.CatalogItem, error) {
	if id <= 0 {
		return domain.CatalogItem{}, fmt.Errorf("%w: product id must be positive", ErrInvalidInput)
	}

	var envelope productEnvelope
	if err := p.do(ctx, http.MethodGet, fmt.Sprintf("products/%d", id), nil, nil, &envelope); err != nil {
		return domain.CatalogItem{}, err
	}

	item, err := MapProduct(envelope.Product)
	if err != nil {
		p.logger(ctx, "catalog.map_failed", map[string]any{"productId": id, "error": err.Error()})
		return domain.CatalogItem{}, err
	}
	return item, nil
}

// FetchAllProducts lists catalog items, optionally narrowed by a free-text
// filter interpreted by the upstream service.
func (p *HTTPProvider) FetchAllProducts(ctx context.Context, filter string) ([]domain.CatalogItem, error) {
	query := url.Values{}
	if trimmed := strings.TrimSpace(filter); trimmed != "" {
		query.Set("filter", trimmed)
	}

	var envelope productListEnvelope
	if err := p.do(ctx, http.MethodGet, "products", query, nil, &envelope); err != nil {
		return nil, err
	}

	items := make([]domain.CatalogItem, 0, len(envelope.Products))
	for _, payload := range envelope.Products {
		item, err := MapProduct(payload)
		if err != nil {
			p.logger(ctx, "catalog.map_failed", map[string]any{"productId": payload.ID, "error": err.Error()})
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// CreateProduct registers a new item with the upstream catalog. Admin path
// only; pricing never calls this.
func (p *HTTPProvider) CreateProduct(ctx context.Context, spec ProductSpec) (domain.CatalogItem, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(spec.Price) == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: product price is required", ErrInvalidInput)
	}

	body := productEnvelope{Product: productPayload{
		Name:           strings.TrimSpace(spec.Name),
		SKU:            strings.TrimSpace(spec.SKU),
		Price:          strings.TrimSpace(spec.Price),
		Currency:       strings.ToUpper(strings.TrimSpace(spec.Currency)),
		TaxRatePercent: strings.TrimSpace(spec.TaxRatePercent),
	}}

	var envelope productEnvelope
	if err := p.do(ctx, http.MethodPost, "products", nil, body, &envelope); err != nil {
		return domain.CatalogItem{}, err
	}
	return MapProduct(envelope.Product)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := *p.base
	target.Path = strings.TrimRight(target.Path, "/") + "/" + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("catalog: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.agent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: upstream rejected %s %s (%s)", ErrInvalidInput, method, path, readErrorBody(resp.Body))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: upstream returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogResponseSize))
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return "unreadable body"
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "empty body"
	}
	return trimmed
}
