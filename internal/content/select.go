// Package content implements daily-tip selection over a read-only content
// collection. Selection is a pure function; the collection comes from the
// store and is already decrypted.
package content

import "cyclebot/internal/cycle"

// PhaseAny tags content applicable to every phase.
const PhaseAny = "any"

// Item is one educational content entry.
type Item struct {
	ID    string
	Title string
	Body  string
	// Phases the item is tagged with ("menstruation", ..., or "any").
	Phases []string
	// SymptomKeys in "category_key" form; empty means phase-general content.
	SymptomKeys []string
	// Roles the item targets ("owner", "observer"); empty means both.
	Roles []string
}

// Criteria narrows the collection for one recipient on one day.
type Criteria struct {
	Role        cycle.Role
	Phase       cycle.Phase
	SymptomKeys []string
}

func (it Item) matchesRole(role cycle.Role) bool {
	if len(it.Roles) == 0 {
		return true
	}
	for _, r := range it.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

func (it Item) hasPhase(p cycle.Phase) bool {
	for _, ph := range it.Phases {
		if ph == string(p) {
			return true
		}
	}
	return false
}

func (it Item) phaseAnyOnly() bool {
	for _, ph := range it.Phases {
		if ph != PhaseAny {
			return false
		}
	}
	return len(it.Phases) > 0
}

func (it Item) symptomOverlap(keys []string) bool {
	for _, want := range keys {
		for _, have := range it.SymptomKeys {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Select picks at most one item, in priority order:
//  1. phase (or "any") match AND at least one symptom tag intersecting
//  2. exact phase match with no symptom tags
//  3. phase "any" with no symptom tags, filtered by target role
//
// ok is false when nothing matches; the caller falls back to a fixed tip.
func Select(items []Item, c Criteria) (Item, bool) {
	// Pass 1: phase + symptom intersection.
	if len(c.SymptomKeys) > 0 {
		for _, it := range items {
			if !it.matchesRole(c.Role) {
				continue
			}
			if (it.hasPhase(c.Phase) || it.hasPhase(PhaseAny)) && it.symptomOverlap(c.SymptomKeys) {
				return it, true
			}
		}
	}
	// Pass 2: phase-general.
	for _, it := range items {
		if !it.matchesRole(c.Role) {
			continue
		}
		if it.hasPhase(c.Phase) && len(it.SymptomKeys) == 0 {
			return it, true
		}
	}
	// Pass 3: fully general.
	for _, it := range items {
		if !it.matchesRole(c.Role) {
			continue
		}
		if it.phaseAnyOnly() && len(it.SymptomKeys) == 0 {
			return it, true
		}
	}
	return Item{}, false
}
