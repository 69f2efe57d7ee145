package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	domain "github.com/saunamo/configurator-api/internal/domain"
	repositories "github.com/saunamo/configurator-api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals bad request data such as a missing price source or a negative quantity.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingCurrencyMismatch is returned when an option's snapshot currency differs from the configuration currency.
	ErrPricingCurrencyMismatch = errors.New("pricing: currency mismatch")
	// ErrPricingNegativePrice rejects a resolved unit price below zero, which indicates a corrupt catalog snapshot.
	ErrPricingNegativePrice = errors.New("pricing: negative price")
)

// QuotePricingEngine computes deterministic price breakdowns from a product
// configuration and a normalised selection. It never mutates its inputs and
// never re-enters the catalog adapter; option prices come from snapshots or
// overrides captured when the configuration was saved.
type QuotePricingEngine struct {
	campaigns repositories.CampaignRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

type QuotePricingEngineDeps struct {
	// Campaigns is optional; when nil no discounts are applied.
	Campaigns repositories.CampaignRepository
	Now       func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

func NewQuotePricingEngine(deps QuotePricingEngineDeps) (*QuotePricingEngine, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &QuotePricingEngine{
		campaigns: deps.Campaigns,
		now:       func() time.Time { return now().UTC() },
		logger:    logger,
	}, nil
}

// Price builds the itemised breakdown for sel against cfg. Line items follow
// the configuration's step order, then each step's option order. Tax is
// rounded half-up per line at minor-unit precision; discounts reduce the
// tax-exclusive subtotal after tax has been computed, so
// Total = Subtotal - DiscountTotal + TotalTax. An empty selection yields a
// zero-total breakdown, not an error.
func (e *QuotePricingEngine) Price(ctx context.Context, cfg ProductConfiguration, sel Selection) (PriceBreakdown, error) {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		return PriceBreakdown{}, fmt.Errorf("%w: configuration %q declares no currency", ErrPricingInvalidInput, cfg.ProductID)
	}

	breakdown := PriceBreakdown{Currency: currency}

	for _, step := range cfg.Steps {
		for _, option := range step.Options {
			if !selectionContains(sel, step.ID, option.ID) {
				continue
			}
			line, err := e.priceLine(currency, step, option)
			if err != nil {
				return PriceBreakdown{}, err
			}
			if line.LineTotal > 0 && breakdown.Subtotal > math.MaxInt64-line.LineTotal {
				return PriceBreakdown{}, fmt.Errorf("%w: subtotal overflow", ErrPricingInvalidInput)
			}
			breakdown.Subtotal += line.LineTotal
			breakdown.TotalTax += line.LineTax
			breakdown.LineItems = append(breakdown.LineItems, line)
		}
	}

	if len(breakdown.LineItems) > 0 {
		if err := e.applyDiscounts(ctx, &breakdown); err != nil {
			return PriceBreakdown{}, err
		}
	}

	breakdown.Total = breakdown.Subtotal - breakdown.DiscountTotal + breakdown.TotalTax
	return breakdown, nil
}

func (e *QuotePricingEngine) priceLine(currency string, step Step, option Option) (LineItem, error) {
	unitPrice, taxRateBp, err := resolveOptionPrice(currency, step.ID, option)
	if err != nil {
		return LineItem{}, err
	}

	quantity := int64(option.Quantity)
	if quantity < 0 {
		return LineItem{}, fmt.Errorf("%w: option %q quantity is negative", ErrPricingInvalidInput, option.ID)
	}
	if quantity == 0 {
		quantity = 1
	}

	if unitPrice > 0 && unitPrice > math.MaxInt64/quantity {
		return LineItem{}, fmt.Errorf("%w: option %q line total overflow", ErrPricingInvalidInput, option.ID)
	}
	lineTotal := unitPrice * quantity
	lineTax, err := basisPointsHalfUp(lineTotal, taxRateBp)
	if err != nil {
		return LineItem{}, fmt.Errorf("%w: option %q: %v", ErrPricingInvalidInput, option.ID, err)
	}

	return LineItem{
		StepID:    step.ID,
		OptionID:  option.ID,
		Label:     option.Label,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		TaxRateBp: taxRateBp,
		LineTotal: lineTotal,
		LineTax:   lineTax,
	}, nil
}

// resolveOptionPrice applies the override rule: an explicit price override
// wins over the cached catalog snapshot. Overrides are denominated in the
// configuration currency, so the mismatch check only guards snapshot prices.
func resolveOptionPrice(currency, stepID string, option Option) (int64, int64, error) {
	taxRateBp := option.TaxRateBp
	if option.Snapshot != nil {
		taxRateBp = option.Snapshot.TaxRateBp
	}
	if taxRateBp < 0 {
		return 0, 0, fmt.Errorf("%w: option %q tax rate is negative", ErrPricingInvalidInput, option.ID)
	}

	var unitPrice int64
	switch {
	case option.PriceOverride != nil:
		unitPrice = *option.PriceOverride
	case option.Snapshot != nil:
		snapCurrency := strings.ToUpper(strings.TrimSpace(option.Snapshot.Currency))
		if snapCurrency != currency {
			return 0, 0, fmt.Errorf("%w: option %q priced in %s, configuration expects %s", ErrPricingCurrencyMismatch, option.ID, snapCurrency, currency)
		}
		unitPrice = option.Snapshot.UnitPrice
	default:
		return 0, 0, fmt.Errorf("%w: option %q in step %q has no price source", ErrPricingInvalidInput, option.ID, stepID)
	}

	if unitPrice < 0 {
		return 0, 0, fmt.Errorf("%w: option %q resolved to %d", ErrPricingNegativePrice, option.ID, unitPrice)
	}
	return unitPrice, taxRateBp, nil
}

// basisPointsHalfUp rounds amount x rate (basis points) half-up at minor-unit
// precision. Line tax uses it per line, never on the aggregate; percentage
// campaigns use it on the remaining subtotal.
func basisPointsHalfUp(amount, rateBp int64) (int64, error) {
	if amount == 0 || rateBp == 0 {
		return 0, nil
	}
	if amount > (math.MaxInt64-5000)/rateBp {
		return 0, errors.New("tax computation overflow")
	}
	return (amount*rateBp + 5000) / 10000, nil
}

func (e *QuotePricingEngine) applyDiscounts(ctx context.Context, breakdown *PriceBreakdown) error {
	if e.campaigns == nil {
		return nil
	}

	campaigns, err := e.campaigns.ListActive(ctx, e.now())
	if err != nil {
		return fmt.Errorf("pricing: list campaigns: %w", err)
	}
	sort.SliceStable(campaigns, func(i, j int) bool {
		if campaigns[i].Priority == campaigns[j].Priority {
			return campaigns[i].ID < campaigns[j].ID
		}
		return campaigns[i].Priority < campaigns[j].Priority
	})

	remaining := breakdown.Subtotal
	for _, campaign := range campaigns {
		amount, ok := e.campaignAmount(ctx, campaign, breakdown.Currency, remaining)
		if !ok || amount <= 0 {
			continue
		}
		if amount > remaining {
			e.logger(ctx, "pricing_discount_clamped", map[string]any{"campaignId": campaign.ID, "amount": amount, "remaining": remaining})
			amount = remaining
		}
		breakdown.AppliedDiscounts = append(breakdown.AppliedDiscounts, AppliedDiscount{
			CampaignID: campaign.ID,
			Label:      campaign.Label,
			Amount:     amount,
		})
		breakdown.DiscountTotal += amount
		remaining -= amount
		if remaining == 0 {
			break
		}
	}
	return nil
}

// campaignAmount resolves a campaign's deduction against the remaining
// tax-exclusive subtotal. Percentage campaigns are computed on what is left
// after earlier campaigns, so stacking never drives the subtotal negative.
func (e *QuotePricingEngine) campaignAmount(ctx context.Context, campaign domain.DiscountCampaign, currency string, remaining int64) (int64, bool) {
	switch campaign.Type {
	case domain.DiscountTypeFixedAmount:
		campaignCurrency := strings.ToUpper(strings.TrimSpace(campaign.Currency))
		if campaignCurrency != "" && campaignCurrency != currency {
			e.logger(ctx, "discount_campaign_skipped", map[string]any{"campaignId": campaign.ID, "reason": "currency", "campaignCurrency": campaignCurrency, "currency": currency})
			return 0, false
		}
		if campaign.Amount < 0 {
			e.logger(ctx, "discount_campaign_skipped", map[string]any{"campaignId": campaign.ID, "reason": "negative_amount"})
			return 0, false
		}
		return campaign.Amount, true
	case domain.DiscountTypePercentage:
		if campaign.PercentBp <= 0 || campaign.PercentBp > 10000 {
			e.logger(ctx, "discount_campaign_skipped", map[string]any{"campaignId": campaign.ID, "reason": "percent_out_of_range", "percentBp": campaign.PercentBp})
			return 0, false
		}
		amount, err := basisPointsHalfUp(remaining, campaign.PercentBp)
		if err != nil {
			e.logger(ctx, "discount_campaign_skipped", map[string]any{"campaignId": campaign.ID, "reason": "overflow"})
			return 0, false
		}
		return amount, true
	default:
		e.logger(ctx, "discount_campaign_skipped", map[string]any{"campaignId": campaign.ID, "reason": "unknown_type", "type": string(campaign.Type)})
		return 0, false
	}
}

func selectionContains(sel Selection, stepID, optionID string) bool {
	for _, id := range sel.Chosen[stepID] {
		if id == optionID {
			return true
		}
	}
	return false
}
