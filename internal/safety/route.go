package safety

import "github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"

// LowConfidenceThreshold is the confidence below which a result is shown
// on the low-confidence screen regardless of allergens.
const LowConfidenceThreshold = 70

// Screen is the outcome screen the caller should present.
type Screen string

const (
	ScreenLowConfidence Screen = "low_confidence"
	ScreenAllergenAlert Screen = "allergen_alert"
	ScreenResult        Screen = "result"
)

// Route picks the outcome screen for an evaluated result.
func Route(result scan.Result, c scan.SafetyClassification) Screen {
	if result == nil || result.ResultConfidence() < LowConfidenceThreshold {
		return ScreenLowConfidence
	}
	if c.Level != scan.SafetySafe {
		return ScreenAllergenAlert
	}
	return ScreenResult
}
