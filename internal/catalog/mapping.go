package catalog

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"

	domain "github.com/saunamo/configurator-api/internal/domain"
)

// MapProduct converts an upstream payload into a closed CatalogItem record.
// The conversion happens exactly once per fetch: decimal strings become minor
// units at the currency's scale, tax percentages become basis points. Anything
// that does not parse cleanly is rejected rather than defaulted.
func MapProduct(payload productPayload) (domain.CatalogItem, error) {
	if payload.ID <= 0 {
		return domain.CatalogItem{}, fmt.Errorf("%w: product id %d", ErrInvalidInput, payload.ID)
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: product %d has no name", ErrInvalidInput, payload.ID)
	}

	code := strings.ToUpper(strings.TrimSpace(payload.Currency))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("%w: product %d currency %q: %v", ErrInvalidInput, payload.ID, payload.Currency, err)
	}
	scale, _ := currency.Standard.Rounding(unit)

	unitPrice, err := parseFixedPoint(payload.Price, scale)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("%w: product %d price %q: %v", ErrInvalidInput, payload.ID, payload.Price, err)
	}

	taxBp := int64(0)
	if raw := strings.TrimSpace(payload.TaxRatePercent); raw != "" {
		// Percent with two fraction digits maps directly onto basis points.
		taxBp, err = parseFixedPoint(raw, 2)
		if err != nil {
			return domain.CatalogItem{}, fmt.Errorf("%w: product %d tax rate %q: %v", ErrInvalidInput, payload.ID, payload.TaxRatePercent, err)
		}
	}

	return domain.CatalogItem{
		ID:        payload.ID,
		Name:      name,
		SKU:       strings.TrimSpace(payload.SKU),
		UnitPrice: unitPrice,
		Currency:  unit.String(),
		TaxRateBp: taxBp,
	}, nil
}

// Snapshot captures an item's price and tax rate for caching on an option.
func Snapshot(item domain.CatalogItem, capturedAt time.Time) domain.PriceSnapshot {
	return domain.PriceSnapshot{
		CatalogItemID: item.ID,
		UnitPrice:     item.UnitPrice,
		Currency:      item.Currency,
		TaxRateBp:     item.TaxRateBp,
		CapturedAt:    capturedAt.UTC(),
	}
}

// parseFixedPoint reads a non-negative decimal string into an integer scaled
// by the given number of fraction digits, without intermediate floats.
func parseFixedPoint(value string, scale int) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(trimmed, "-") {
		return 0, fmt.Errorf("negative amount %q", value)
	}

	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > scale {
		return 0, fmt.Errorf("amount %q exceeds %d fraction digits", value, scale)
	}
	for len(frac) < scale {
		frac += "0"
	}

	var result int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not a decimal number", value)
		}
		digit := int64(r - '0')
		if result > (1<<63-1-digit)/10 {
			return 0, fmt.Errorf("amount %q overflows", value)
		}
		result = result*10 + digit
	}
	return result, nil
}
