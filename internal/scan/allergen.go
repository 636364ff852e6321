package scan

import "strings"

// AllergenType is one entry of the fixed allergen vocabulary.
type AllergenType string

const (
	AllergenShellfish AllergenType = "shellfish"
	AllergenFish      AllergenType = "fish"
	AllergenPeanut    AllergenType = "peanut"
	AllergenSoy       AllergenType = "soy"
	AllergenDairy     AllergenType = "dairy"
	AllergenEgg       AllergenType = "egg"
	AllergenGluten    AllergenType = "gluten"
	AllergenTreeNut   AllergenType = "tree_nut"
	AllergenSesame    AllergenType = "sesame"
	AllergenUnknown   AllergenType = "unknown"
)

// allergenTerms lists the substrings that identify each allergen type.
// Order matters: "shellfish" contains "fish" and "peanut" must win over
// any nut term, so the more specific entries come first.
var allergenTerms = []struct {
	Type  AllergenType
	Terms []string
}{
	{AllergenShellfish, []string{"shellfish"}},
	{AllergenFish, []string{"fish"}},
	{AllergenPeanut, []string{"peanut"}},
	{AllergenSoy, []string{"soy"}},
	{AllergenDairy, []string{"dairy", "milk"}},
	{AllergenEgg, []string{"egg"}},
	{AllergenGluten, []string{"wheat", "gluten"}},
	{AllergenTreeNut, []string{"tree_nut", "tree-nut", "tree nut", "treenut"}},
	{AllergenSesame, []string{"sesame"}},
}

// MatchAllergen maps free text onto the allergen vocabulary by substring.
// Anything that matches no term is AllergenUnknown.
func MatchAllergen(text string) AllergenType {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return AllergenUnknown
	}
	for _, entry := range allergenTerms {
		for _, term := range entry.Terms {
			if strings.Contains(lower, term) {
				return entry.Type
			}
		}
	}
	return AllergenUnknown
}

// DisplayName returns the allergen name with separators replaced by spaces.
func (a AllergenType) DisplayName() string {
	return strings.NewReplacer("-", " ", "_", " ").Replace(string(a))
}

// Severity is the canonical three-tier severity scale shared by detection
// and user profiles. Detection likelihood (low/moderate/high) is mapped
// onto it with SeverityFromLikelihood.
type Severity int

const (
	SeverityMild Severity = iota + 1
	SeverityModerate
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityMild:
		return "mild"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// ParseSeverity accepts both vocabularies: mild/moderate/severe and the
// detection-side low/moderate/high. Unrecognized input returns false.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mild", "low":
		return SeverityMild, true
	case "moderate", "medium":
		return SeverityModerate, true
	case "severe", "high":
		return SeveritySevere, true
	default:
		return 0, false
	}
}

// MarshalText encodes the canonical name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes either vocabulary. Unknown values decode as
// moderate so that a malformed profile entry still counts as a match.
func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		v = SeverityModerate
	}
	*s = v
	return nil
}

// Likelihood is the detection-side vocabulary derived from signal prefixes.
type Likelihood string

const (
	LikelihoodLow      Likelihood = "low"
	LikelihoodModerate Likelihood = "moderate"
	LikelihoodHigh     Likelihood = "high"
)

// SeverityFromLikelihood maps high→severe, moderate→moderate, low→mild.
func SeverityFromLikelihood(l Likelihood) Severity {
	switch l {
	case LikelihoodHigh:
		return SeveritySevere
	case LikelihoodLow:
		return SeverityMild
	default:
		return SeverityModerate
	}
}

// DetectedAllergen is one allergen found in a dish.
type DetectedAllergen struct {
	Type       AllergenType `json:"type"`
	Severity   Severity     `json:"severity"`
	Confidence int          `json:"confidence"`
	Source     string       `json:"source,omitempty"`
}

// ProfileEntry is one allergen the user declared.
type ProfileEntry struct {
	Type     AllergenType `json:"type"`
	Severity Severity     `json:"severity"`
}

// AllergenProfile is the user's ordered, read-only allergen list.
type AllergenProfile []ProfileEntry

// Lookup returns the profile entry for an allergen type.
func (p AllergenProfile) Lookup(t AllergenType) (ProfileEntry, bool) {
	for _, e := range p {
		if e.Type == t {
			return e, true
		}
	}
	return ProfileEntry{}, false
}
