package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/safety"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// PrintResult writes a human-readable summary of an evaluated result for
// the given outcome screen.
func PrintResult(w io.Writer, result scan.Result, c scan.SafetyClassification, screen safety.Screen) {
	switch screen {
	case safety.ScreenLowConfidence:
		fmt.Fprintf(w, "\n?  Low confidence (%d%%). Try a clearer, well-lit photo.\n", result.ResultConfidence())
	case safety.ScreenAllergenAlert:
		marker := "!"
		if c.Level == scan.SafetyDanger {
			marker = "!!"
		}
		fmt.Fprintf(w, "\n%s  %s\n", marker, c.Message)
	default:
		fmt.Fprintf(w, "\nOK  %s\n", c.Message)
	}
	fmt.Fprintf(w, "   Safety score: %d/100 (%s)\n", c.Score, c.Level)

	switch r := result.(type) {
	case *scan.FoodScanResult:
		printFood(w, r)
	case *scan.MenuScanResult:
		printMenu(w, r)
	}
}

func printFood(w io.Writer, r *scan.FoodScanResult) {
	fmt.Fprintf(w, "\n%s (confidence %d%%)\n", r.Name, r.Confidence)
	if r.Description != "" {
		fmt.Fprintf(w, "  %s\n", r.Description)
	}
	n := r.Nutrition
	fmt.Fprintf(w, "  %.0f kcal | protein %.1fg | carbs %.1fg | fats %.1fg\n", n.Calories, n.Protein, n.Carbs, n.Fats)
	if len(r.Ingredients) > 0 {
		names := make([]string, 0, len(r.Ingredients))
		for _, ing := range r.Ingredients {
			names = append(names, ing.Name)
		}
		fmt.Fprintf(w, "  Ingredients: %s\n", strings.Join(names, ", "))
	}
	for _, a := range r.Allergens {
		fmt.Fprintf(w, "  - %s\n", describeAllergen(a))
	}
}

func printMenu(w io.Writer, r *scan.MenuScanResult) {
	fmt.Fprintf(w, "\nMenu: %d dishes, %d without detected allergens, %d flagged\n", r.TotalDishes, r.SafeCount, r.UnsafeCount)
	for _, d := range r.Dishes {
		mark := " "
		if !d.IsSafe {
			mark = "!"
		}
		price := ""
		if d.Price != nil {
			price = fmt.Sprintf("  %.2f %s", *d.Price, d.Currency)
		}
		fmt.Fprintf(w, "%s %s (%d%%)%s\n", mark, d.Name, d.Confidence, price)
		for _, warning := range d.Warnings {
			fmt.Fprintf(w, "    %s\n", warning)
		}
	}
}

func describeAllergen(a scan.DetectedAllergen) string {
	s := fmt.Sprintf("%s (%s, %d%%)", a.Type.DisplayName(), a.Severity, a.Confidence)
	if a.Source != "" {
		s += " from " + a.Source
	}
	return s
}
