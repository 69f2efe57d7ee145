package domain

// Selection is a user's concrete choices for one configuration session, keyed
// by step id. A normalized Selection references only steps and options present
// in its ProductConfiguration, with option ids ordered as they appear within
// each step; line-item order is derived from the configuration's step order.
type Selection struct {
	ProductID string
	Chosen    map[string][]string
}

// Clone returns a deep copy so callers can hold a Selection without sharing
// the underlying maps.
func (s Selection) Clone() Selection {
	if s.Chosen == nil {
		return Selection{ProductID: s.ProductID}
	}
	chosen := make(map[string][]string, len(s.Chosen))
	for stepID, optionIDs := range s.Chosen {
		ids := make([]string, len(optionIDs))
		copy(ids, optionIDs)
		chosen[stepID] = ids
	}
	return Selection{ProductID: s.ProductID, Chosen: chosen}
}
