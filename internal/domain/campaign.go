package domain

import "time"

// DiscountType identifies how a campaign reduces the subtotal.
type DiscountType string

const (
	// DiscountTypeFixedAmount subtracts a fixed amount in minor units.
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
	// DiscountTypePercentage subtracts a share of the subtotal expressed in basis points.
	DiscountTypePercentage DiscountType = "percentage"
)

// DiscountCampaign describes a discount applied during pricing. Fixed campaigns
// carry Amount in minor units of Currency; percentage campaigns carry PercentBp
// (basis points, 1000 = 10%).
type DiscountCampaign struct {
	ID        string
	Label     string
	Type      DiscountType
	Amount    int64
	PercentBp int64
	Currency  string
	Priority  int
	StartsAt  time.Time
	EndsAt    time.Time
	Active    bool
}

// AppliesAt reports whether the campaign is live at the given instant.
func (c DiscountCampaign) AppliesAt(at time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.StartsAt.IsZero() && at.Before(c.StartsAt) {
		return false
	}
	if !c.EndsAt.IsZero() && !at.Before(c.EndsAt) {
		return false
	}
	return true
}
