// Package safety decides whether a scan result is safe for a user's
// allergen profile and which outcome screen the caller should show.
package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// Severity penalties applied to the safety score per matched allergen.
var penalties = map[scan.Severity]float64{
	scan.SeveritySevere:   40,
	scan.SeverityModerate: 25,
	scan.SeverityMild:     15,
}

// Evaluate matches the result's detected allergens against the profile.
// A match's effective severity is the stricter of the user's declared
// severity and the detected severity. No match is safe, any severe match is
// danger, and anything else (mild included) is a warning.
func Evaluate(result scan.Result, profile scan.AllergenProfile) scan.SafetyClassification {
	matches := Matches(result, profile)

	level := scan.SafetySafe
	if len(matches) > 0 {
		level = scan.SafetyWarning
		for _, m := range matches {
			if effectiveSeverity(m, profile) == scan.SeveritySevere {
				level = scan.SafetyDanger
				break
			}
		}
	}

	return scan.SafetyClassification{
		Level:            level,
		MatchedAllergens: matches,
		Message:          message(level, matches),
		Score:            Score(matches, profile),
	}
}

// Matches returns every detected allergen whose type appears in the profile,
// in detection order. A nil result has no matches.
func Matches(result scan.Result, profile scan.AllergenProfile) []scan.DetectedAllergen {
	matches := []scan.DetectedAllergen{}
	if result == nil {
		return matches
	}
	for _, a := range result.DetectedAllergens() {
		if _, ok := profile.Lookup(a.Type); ok {
			matches = append(matches, a)
		}
	}
	return matches
}

// Score starts at 100 and subtracts a severity penalty per match, scaled by
// the mean detection confidence. It never goes below 0.
func Score(matches []scan.DetectedAllergen, profile scan.AllergenProfile) int {
	if len(matches) == 0 {
		return 100
	}
	var penalty, confidence float64
	for _, m := range matches {
		penalty += penalties[effectiveSeverity(m, profile)]
		confidence += float64(m.Confidence)
	}
	mean := confidence / float64(len(matches)) / 100
	score := 100 - penalty*mean
	if score < 0 {
		return 0
	}
	return int(math.Round(score))
}

func effectiveSeverity(m scan.DetectedAllergen, profile scan.AllergenProfile) scan.Severity {
	sev := m.Severity
	if entry, ok := profile.Lookup(m.Type); ok && entry.Severity > sev {
		sev = entry.Severity
	}
	if sev < scan.SeverityMild {
		sev = scan.SeverityMild
	}
	return sev
}

func message(level scan.SafetyLevel, matches []scan.DetectedAllergen) string {
	names := allergenNames(matches)
	switch level {
	case scan.SafetyDanger:
		return fmt.Sprintf("Contains %s, which you are severely allergic to. Avoid this dish.", names)
	case scan.SafetyWarning:
		return fmt.Sprintf("May contain %s from your allergen profile. Check with staff before ordering.", names)
	default:
		return "No allergens from your profile were detected."
	}
}

// allergenNames joins distinct allergen names in first-seen order.
func allergenNames(matches []scan.DetectedAllergen) string {
	seen := make(map[scan.AllergenType]bool, len(matches))
	var names []string
	for _, m := range matches {
		if seen[m.Type] {
			continue
		}
		seen[m.Type] = true
		names = append(names, m.Type.DisplayName())
	}
	return strings.Join(names, ", ")
}
