package domain

import (
	"strings"
	"time"
)

// Option is one selectable choice within a step. Its price is sourced from the
// cached catalog snapshot unless PriceOverride is set, which wins. Options
// without a catalog link carry their own tax rate (0 when untaxed).
type Option struct {
	ID            string
	Label         string
	CatalogItemID *int64
	PriceOverride *int64
	TaxRateBp     int64
	Quantity      int
	IsDefault     bool
	Snapshot      *PriceSnapshot
}

// Step groups mutually related options into one stage of the wizard. Option
// order is significant and drives line-item ordering downstream.
type Step struct {
	ID            string
	Name          string
	Required      bool
	AllowMultiple bool
	Options       []Option
}

// ProductConfiguration is the sellable product definition: ordered steps, each
// with its options. Step order equals wizard order and is stable across reads.
type ProductConfiguration struct {
	ProductID string
	Name      string
	Currency  string
	Steps     []Step
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ViolationKind classifies structural defects found by Validate.
type ViolationKind string

const (
	// ViolationDuplicateStepID flags a step id used more than once.
	ViolationDuplicateStepID ViolationKind = "duplicate_step_id"
	// ViolationDuplicateOptionID flags an option id reused within one step.
	ViolationDuplicateOptionID ViolationKind = "duplicate_option_id"
	// ViolationRequiredStepWithNoOptions flags a required step with nothing to choose.
	ViolationRequiredStepWithNoOptions ViolationKind = "required_step_with_no_options"
	// ViolationOptionMissingPriceSource flags an option whose price cannot resolve.
	ViolationOptionMissingPriceSource ViolationKind = "option_missing_price_source"
)

// Violation locates a single Validate finding.
type Violation struct {
	Kind     ViolationKind
	StepID   string
	OptionID string
}

// Validate checks the configuration's structural invariants. It has no side
// effects and must pass before a configuration is accepted for pricing.
func (c ProductConfiguration) Validate() []Violation {
	var violations []Violation

	stepIDs := make(map[string]struct{}, len(c.Steps))
	for _, step := range c.Steps {
		id := strings.TrimSpace(step.ID)
		if _, dup := stepIDs[id]; dup {
			violations = append(violations, Violation{Kind: ViolationDuplicateStepID, StepID: id})
		}
		stepIDs[id] = struct{}{}

		if step.Required && len(step.Options) == 0 {
			violations = append(violations, Violation{Kind: ViolationRequiredStepWithNoOptions, StepID: id})
		}

		optionIDs := make(map[string]struct{}, len(step.Options))
		for _, option := range step.Options {
			optID := strings.TrimSpace(option.ID)
			if _, dup := optionIDs[optID]; dup {
				violations = append(violations, Violation{Kind: ViolationDuplicateOptionID, StepID: id, OptionID: optID})
			}
			optionIDs[optID] = struct{}{}

			if !option.hasPriceSource() {
				violations = append(violations, Violation{Kind: ViolationOptionMissingPriceSource, StepID: id, OptionID: optID})
			}
		}
	}

	return violations
}

// Step returns the step with the given id and whether it exists.
func (c ProductConfiguration) Step(stepID string) (Step, bool) {
	for _, step := range c.Steps {
		if step.ID == stepID {
			return step, true
		}
	}
	return Step{}, false
}

// Option returns the option with the given id and whether it exists.
func (s Step) Option(optionID string) (Option, bool) {
	for _, option := range s.Options {
		if option.ID == optionID {
			return option, true
		}
	}
	return Option{}, false
}

func (o Option) hasPriceSource() bool {
	if o.PriceOverride != nil {
		return true
	}
	// A catalog link without a captured snapshot cannot resolve a price.
	return o.CatalogItemID != nil && o.Snapshot != nil
}
