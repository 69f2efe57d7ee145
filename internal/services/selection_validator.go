package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSelectionInvalid is the sentinel wrapped by every SelectionError so
// callers can branch on the class with errors.Is and on the detail with
// errors.As.
var ErrSelectionInvalid = errors.New("selection: invalid selection")

// SelectionErrorCode distinguishes the normalisation failure kinds.
type SelectionErrorCode string

const (
	// SelectionErrorMissingRequiredStep marks a required step with no chosen options.
	SelectionErrorMissingRequiredStep SelectionErrorCode = "missing_required_step"
	// SelectionErrorTooManyOptions marks a single-select step with more than one option chosen.
	SelectionErrorTooManyOptions SelectionErrorCode = "too_many_options_selected"
	// SelectionErrorUnknownOption marks a chosen (step, option) pair absent from the configuration.
	SelectionErrorUnknownOption SelectionErrorCode = "unknown_option"
)

// SelectionError carries the step and option that failed normalisation so the
// wizard can point the user at the offending stage.
type SelectionError struct {
	Code     SelectionErrorCode
	StepID   string
	OptionID string
}

func (e *SelectionError) Error() string {
	switch e.Code {
	case SelectionErrorMissingRequiredStep:
		return fmt.Sprintf("%v: required step %q has no selection", ErrSelectionInvalid, e.StepID)
	case SelectionErrorTooManyOptions:
		return fmt.Sprintf("%v: step %q allows a single option", ErrSelectionInvalid, e.StepID)
	case SelectionErrorUnknownOption:
		return fmt.Sprintf("%v: option %q does not exist in step %q", ErrSelectionInvalid, e.OptionID, e.StepID)
	default:
		return ErrSelectionInvalid.Error()
	}
}

func (e *SelectionError) Unwrap() error { return ErrSelectionInvalid }

// WizardSelectionValidator normalises raw wizard selections against a
// product configuration. It performs no I/O and is safe for concurrent use.
type WizardSelectionValidator struct{}

// NewWizardSelectionValidator returns a stateless validator.
func NewWizardSelectionValidator() *WizardSelectionValidator {
	return &WizardSelectionValidator{}
}

// Normalize checks the raw selection against cfg and returns the canonical
// form: only step ids declared in cfg, option ids deduplicated and reordered
// to match each step's declared option order. Normalising an already
// normalised selection returns it unchanged.
func (v *WizardSelectionValidator) Normalize(_ context.Context, cfg ProductConfiguration, raw Selection) (Selection, error) {
	if strings.TrimSpace(cfg.ProductID) == "" {
		return Selection{}, fmt.Errorf("%w: configuration has no product id", ErrSelectionInvalid)
	}
	if raw.ProductID != "" && raw.ProductID != cfg.ProductID {
		return Selection{}, fmt.Errorf("%w: selection targets product %q, configuration is %q", ErrSelectionInvalid, raw.ProductID, cfg.ProductID)
	}

	normalized := Selection{ProductID: cfg.ProductID, Chosen: make(map[string][]string, len(cfg.Steps))}

	for _, step := range cfg.Steps {
		chosen := dedupeOptionIDs(raw.Chosen[step.ID])

		if len(chosen) == 0 {
			if step.Required {
				return Selection{}, &SelectionError{Code: SelectionErrorMissingRequiredStep, StepID: step.ID}
			}
			continue
		}
		if !step.AllowMultiple && len(chosen) > 1 {
			return Selection{}, &SelectionError{Code: SelectionErrorTooManyOptions, StepID: step.ID}
		}
		for _, optionID := range chosen {
			if _, ok := step.Option(optionID); !ok {
				return Selection{}, &SelectionError{Code: SelectionErrorUnknownOption, StepID: step.ID, OptionID: optionID}
			}
		}

		normalized.Chosen[step.ID] = orderByStep(step, chosen)
	}

	// Chosen entries that reference no declared step are an error when they
	// carry options, and silently dropped when empty.
	unknownSteps := make([]string, 0)
	for stepID, optionIDs := range raw.Chosen {
		if _, ok := cfg.Step(stepID); ok {
			continue
		}
		if len(dedupeOptionIDs(optionIDs)) == 0 {
			continue
		}
		unknownSteps = append(unknownSteps, stepID)
	}
	if len(unknownSteps) > 0 {
		sort.Strings(unknownSteps)
		stepID := unknownSteps[0]
		return Selection{}, &SelectionError{Code: SelectionErrorUnknownOption, StepID: stepID, OptionID: dedupeOptionIDs(raw.Chosen[stepID])[0]}
	}

	return normalized, nil
}

func dedupeOptionIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// orderByStep reorders chosen ids to follow the step's declared option order
// so repeated normalisation is stable regardless of input order.
func orderByStep(step Step, chosen []string) []string {
	set := make(map[string]struct{}, len(chosen))
	for _, id := range chosen {
		set[id] = struct{}{}
	}
	ordered := make([]string, 0, len(chosen))
	for _, option := range step.Options {
		if _, ok := set[option.ID]; ok {
			ordered = append(ordered, option.ID)
		}
	}
	return ordered
}
