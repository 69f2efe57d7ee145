package domain

import "time"

// QuoteStatus enumerates the quote lifecycle states.
type QuoteStatus string

const (
	// QuoteStatusDraft is the state every quote is created in.
	QuoteStatusDraft QuoteStatus = "draft"
	// QuoteStatusSent indicates the quote was delivered to the customer.
	QuoteStatusSent QuoteStatus = "sent"
	// QuoteStatusAccepted indicates the customer accepted the quote.
	QuoteStatusAccepted QuoteStatus = "accepted"
	// QuoteStatusExpired indicates validity lapsed before acceptance.
	QuoteStatusExpired QuoteStatus = "expired"
)

// Customer holds optional contact details attached to a quote.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

// Quote is the durable record combining a normalized selection, its priced
// breakdown, and customer/validity metadata. Pricing fields are immutable once
// created; a re-price produces a new Quote. Only Status (and its companion
// timestamps) may change, driven by external events.
type Quote struct {
	ID         string
	Number     string
	ProductID  string
	Selection  Selection
	Breakdown  PriceBreakdown
	Customer   *Customer
	Status     QuoteStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ValidUntil time.Time
	SentAt     *time.Time
	AcceptedAt *time.Time
	ExpiredAt  *time.Time
	Metadata   map[string]any
}
