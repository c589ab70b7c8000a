package forms

import "strings"

// Slot is a named step category in a consultation.
type Slot string

const (
	SlotRAF         Slot = "raf"
	SlotAssessment  Slot = "assessment"
	SlotAdvice      Slot = "advice"
	SlotDeclaration Slot = "declaration"
	SlotSupply      Slot = "supply"
	SlotReorder     Slot = "reorder"
)

// slotCategories lists the template categories each slot accepts, canonical name first.
// Older releases stored assessment templates under several names.
var slotCategories = map[Slot][]string{
	SlotRAF:         {"raf"},
	SlotAssessment:  {"assessment", "risk_assessment", "risk-assessment", "intake"},
	SlotAdvice:      {"advice"},
	SlotDeclaration: {"declaration"},
	SlotSupply:      {"supply"},
	SlotReorder:     {"reorder", "re-order"},
}

// Categories returns the template categories that satisfy the slot.
func (s Slot) Categories() []string {
	cats, ok := slotCategories[s]
	if !ok {
		return nil
	}
	out := make([]string, len(cats))
	copy(out, cats)
	return out
}

func (s Slot) Valid() bool {
	_, ok := slotCategories[s]
	return ok
}

// ParseSlot maps a slot name or any of its category aliases onto the canonical slot.
func ParseSlot(raw string) (Slot, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", false
	}
	for slot, cats := range slotCategories {
		for _, c := range cats {
			if c == name {
				return slot, true
			}
		}
	}
	return "", false
}

// IsAssessmentLike reports whether the slot captures the clinical intake answers.
func (s Slot) IsAssessmentLike() bool {
	return s == SlotAssessment || s == SlotRAF
}
