// Package symptoms holds the static symptom catalog. Categories and keys are
// stable identifiers; labels are display-only.
package symptoms

// Entry is one logged symptom: a (category, key) pair for a (user, date).
// Entries form a set per (user, date); ordering carries no meaning.
type Entry struct {
	Category string
	Key      string
}

// Catalog maps category key -> symptom key -> label.
var Catalog = map[string]map[string]string{
	"mood": {
		"happy":     "Happy",
		"sad":       "Sad",
		"irritable": "Irritable",
		"anxious":   "Anxious",
		"calm":      "Calm",
		"energetic": "Energetic",
		"tired":     "Tired",
	},
	"aches": {
		"headache":    "Headache",
		"cramps":      "Cramps",
		"backache":    "Backache",
		"breast_pain": "Breast pain",
		"joint_pain":  "Joint pain",
	},
	"digestion": {
		"bloating":     "Bloating",
		"constipation": "Constipation",
		"diarrhea":     "Diarrhea",
		"nausea":       "Nausea",
	},
	"skin": {
		"acne":      "Acne",
		"oily_skin": "Oily skin",
		"dry_skin":  "Dry skin",
	},
	"sleep": {
		"good_sleep":      "Good sleep",
		"insomnia":        "Insomnia",
		"disturbed_sleep": "Disturbed sleep",
	},
	"libido": {
		"high_libido": "High libido",
		"low_libido":  "Low libido",
	},
	"discharge": {
		"none":         "None",
		"clear_watery": "Clear / watery",
		"creamy_milky": "Creamy / milky",
		"thick_sticky": "Thick / sticky",
		"spotting":     "Spotting",
	},
}

// Valid reports whether (category, key) exists in the catalog.
func Valid(category, key string) bool {
	m, ok := Catalog[category]
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

// Keys returns the flat "category_key" identifiers for a set of entries,
// the form content items are tagged with.
func Keys(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Category+"_"+e.Key)
	}
	return out
}
