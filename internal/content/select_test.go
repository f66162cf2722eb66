package content

import (
	"testing"

	"cyclebot/internal/cycle"
)

func TestSelectPriorityOrder(t *testing.T) {
	t.Parallel()
	items := []Item{
		{ID: "general", Phases: []string{PhaseAny}},
		{ID: "phase-only", Phases: []string{"luteal"}},
		{ID: "phase-symptom", Phases: []string{"luteal"}, SymptomKeys: []string{"aches_cramps"}},
	}

	// All three match: symptom+phase wins.
	got, ok := Select(items, Criteria{
		Role:        cycle.RoleOwner,
		Phase:       cycle.PhaseLuteal,
		SymptomKeys: []string{"aches_cramps", "mood_tired"},
	})
	if !ok || got.ID != "phase-symptom" {
		t.Fatalf("got %q (ok=%v), want phase-symptom", got.ID, ok)
	}

	// No symptom overlap: phase-only wins over general.
	got, ok = Select(items, Criteria{Role: cycle.RoleOwner, Phase: cycle.PhaseLuteal})
	if !ok || got.ID != "phase-only" {
		t.Fatalf("got %q (ok=%v), want phase-only", got.ID, ok)
	}

	// Different phase, no symptoms: only general matches.
	got, ok = Select(items, Criteria{Role: cycle.RoleOwner, Phase: cycle.PhaseFollicular})
	if !ok || got.ID != "general" {
		t.Fatalf("got %q (ok=%v), want general", got.ID, ok)
	}
}

func TestSelectSymptomRequiresPhaseCompatibility(t *testing.T) {
	t.Parallel()
	items := []Item{
		{ID: "wrong-phase", Phases: []string{"ovulation"}, SymptomKeys: []string{"mood_sad"}},
		{ID: "any-symptom", Phases: []string{PhaseAny}, SymptomKeys: []string{"mood_sad"}},
	}
	got, ok := Select(items, Criteria{
		Role:        cycle.RoleOwner,
		Phase:       cycle.PhaseMenstruation,
		SymptomKeys: []string{"mood_sad"},
	})
	if !ok || got.ID != "any-symptom" {
		t.Fatalf("got %q (ok=%v), want any-symptom", got.ID, ok)
	}
}

func TestSelectRoleFilter(t *testing.T) {
	t.Parallel()
	items := []Item{
		{ID: "owner-only", Phases: []string{PhaseAny}, Roles: []string{"owner"}},
		{ID: "observer-tip", Phases: []string{PhaseAny}, Roles: []string{"observer"}},
	}
	got, ok := Select(items, Criteria{Role: cycle.RoleObserver, Phase: cycle.PhaseLuteal})
	if !ok || got.ID != "observer-tip" {
		t.Fatalf("got %q (ok=%v), want observer-tip", got.ID, ok)
	}
}

func TestSelectNothingMatches(t *testing.T) {
	t.Parallel()
	items := []Item{
		{ID: "phase-only", Phases: []string{"ovulation"}},
	}
	if _, ok := Select(items, Criteria{Role: cycle.RoleOwner, Phase: cycle.PhaseLuteal}); ok {
		t.Fatal("expected no match")
	}
	if _, ok := Select(nil, Criteria{Role: cycle.RoleOwner, Phase: cycle.PhaseLuteal}); ok {
		t.Fatal("expected no match on empty collection")
	}
}
