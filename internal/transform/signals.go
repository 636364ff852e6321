package transform

import (
	"strings"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// Signal prefixes and the likelihood and confidence they imply.
var signalPrefixes = []struct {
	prefix     string
	likelihood scan.Likelihood
	confidence int
}{
	{"likely_", scan.LikelihoodHigh, 90},
	{"possible_", scan.LikelihoodLow, 50},
}

const defaultSignalConfidence = 70

// parseSignal turns a signal such as "likely_shellfish_from_shrimp" into a
// detected allergen. Every signal yields exactly one allergen.
func parseSignal(signal string) scan.DetectedAllergen {
	s := strings.ToLower(strings.TrimSpace(signal))

	likelihood := scan.LikelihoodModerate
	confidence := defaultSignalConfidence
	for _, p := range signalPrefixes {
		if strings.HasPrefix(s, p.prefix) {
			s = strings.TrimPrefix(s, p.prefix)
			likelihood = p.likelihood
			confidence = p.confidence
			break
		}
	}

	body, source := s, ""
	if strings.HasPrefix(s, "from_") {
		body, source = "", strings.TrimPrefix(s, "from_")
	} else if i := strings.Index(s, "_from_"); i >= 0 {
		body, source = s[:i], s[i+len("_from_"):]
	}
	source = strings.ReplaceAll(strings.Trim(source, "_"), "_", " ")

	return scan.DetectedAllergen{
		Type:       scan.MatchAllergen(body),
		Severity:   scan.SeverityFromLikelihood(likelihood),
		Confidence: confidence,
		Source:     source,
	}
}

func parseSignals(it item) []scan.DetectedAllergen {
	if it.DishDetails == nil {
		return []scan.DetectedAllergen{}
	}
	out := make([]scan.DetectedAllergen, 0, len(it.DishDetails.AllergenSignals))
	for _, sig := range it.DishDetails.AllergenSignals {
		out = append(out, parseSignal(sig))
	}
	return out
}
