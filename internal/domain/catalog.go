package domain

import "time"

// CatalogItem is the read contract exposed by the upstream product catalog.
// Prices are tax-exclusive minor units in the item's currency; tax rates are
// basis points (21% VAT = 2100).
type CatalogItem struct {
	ID        int64
	Name      string
	SKU       string
	UnitPrice int64
	Currency  string
	TaxRateBp int64
}

// PriceSnapshot caches a catalog item's price and tax rate on an option when a
// configuration is saved or refreshed. Pricing never re-enters the catalog
// adapter; it consumes snapshots exclusively.
type PriceSnapshot struct {
	CatalogItemID int64
	UnitPrice     int64
	Currency      string
	TaxRateBp     int64
	CapturedAt    time.Time
}
