package domain

// LineItem is one priced option within a breakdown. Amounts are tax-exclusive
// minor units except LineTax; tax is rounded half-up per line, not on the
// aggregate, so subtotals reconcile with upstream finance systems.
type LineItem struct {
	StepID    string
	OptionID  string
	Label     string
	Quantity  int64
	UnitPrice int64
	TaxRateBp int64
	LineTotal int64
	LineTax   int64
}

// AppliedDiscount records one campaign deduction in application order.
type AppliedDiscount struct {
	CampaignID string
	Label      string
	Amount     int64
}

// PriceBreakdown is the computed, itemized price result for a Selection. It is
// ephemeral: recomputed per request and never persisted outside a Quote.
// Total = Subtotal - DiscountTotal + TotalTax; tax is computed on the
// pre-discount subtotal.
type PriceBreakdown struct {
	Currency         string
	LineItems        []LineItem
	Subtotal         int64
	DiscountTotal    int64
	TotalTax         int64
	Total            int64
	AppliedDiscounts []AppliedDiscount
}

// SubtotalAfterDiscount returns the tax-exclusive subtotal once campaign
// deductions are applied.
func (b PriceBreakdown) SubtotalAfterDiscount() int64 {
	return b.Subtotal - b.DiscountTotal
}
