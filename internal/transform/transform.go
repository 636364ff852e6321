// Package transform normalizes a completed analysis payload into a
// FoodScanResult or MenuScanResult.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/rs/zerolog/log"
)

const (
	// defaultConfidence applies when neither the item nor the extraction
	// reports a score.
	defaultConfidence = 50
	// lowQualityCap bounds the confidence of an item without dish details
	// when extraction quality is low.
	lowQualityCap = 50
)

// Transformer converts analysis payloads. The zero value is not usable; use New.
type Transformer struct {
	now   func() time.Time
	newID func() string
}

// New returns a Transformer using wall-clock timestamps and random UUIDs.
func New() *Transformer {
	return &Transformer{now: time.Now, newID: uuid.NewString}
}

var defaultTransformer = New()

// Transform converts raw with the default Transformer.
func Transform(raw []byte, imageRef, jobID string) (scan.Result, error) {
	return defaultTransformer.Transform(raw, imageRef, jobID)
}

// Transform decodes raw once and builds a result. A single reported item
// yields a *scan.FoodScanResult; anything else a *scan.MenuScanResult.
// Only an undecodable body or one with no items is an error.
func (t *Transformer) Transform(raw []byte, imageRef, jobID string) (scan.Result, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &scanerr.TransformError{Message: "decode analysis payload", Err: err}
	}
	body := p.unwrap()

	items := body.flatten()
	if len(items) == 0 {
		return nil, &scanerr.TransformError{Message: "analysis contained no sections or items"}
	}

	now := t.now()
	if len(items) == 1 {
		food := t.buildFood(items[0], body)
		food.ID = jobID
		if food.ID == "" {
			food.ID = t.newID()
		}
		food.ImageRef = imageRef
		food.Timestamp = now
		log.Debug().
			Str("jobId", jobID).
			Str("name", food.Name).
			Int("confidence", food.Confidence).
			Int("allergens", len(food.Allergens)).
			Msg("Transformed single-dish result")
		return food, nil
	}

	menu := &scan.MenuScanResult{
		ID:        jobID,
		ImageRef:  imageRef,
		Timestamp: now,
		Cuisine:   body.cuisine(),
		Language:  body.language(),
		Dishes:    make([]scan.DishItem, 0, len(items)),
	}
	if menu.ID == "" {
		menu.ID = t.newID()
	}
	for _, it := range items {
		dish := t.buildDish(it, body)
		dish.ImageRef = imageRef
		dish.Timestamp = now
		if dish.IsSafe {
			menu.SafeCount++
		} else {
			menu.UnsafeCount++
		}
		menu.Dishes = append(menu.Dishes, dish)
	}
	menu.TotalDishes = len(menu.Dishes)

	if body.TotalItems != nil && int(math.Round(float64(*body.TotalItems))) != menu.TotalDishes {
		log.Warn().
			Str("jobId", jobID).
			Float64("reported", float64(*body.TotalItems)).
			Int("flattened", menu.TotalDishes).
			Msg("Reported item count differs from flattened sections")
	}
	log.Debug().
		Str("jobId", jobID).
		Int("dishes", menu.TotalDishes).
		Int("safe", menu.SafeCount).
		Int("unsafe", menu.UnsafeCount).
		Msg("Transformed menu result")
	return menu, nil
}

func (t *Transformer) buildFood(it item, body *payload) *scan.FoodScanResult {
	allergens := parseSignals(it)
	food := &scan.FoodScanResult{
		Name:        strings.TrimSpace(it.Name),
		Confidence:  itemConfidence(it, body.Extraction),
		Nutrition:   buildNutrition(it),
		Allergens:   allergens,
		Ingredients: buildIngredients(it, allergens),
		Description: it.Description,
		Cuisine:     firstNonEmpty(it.Cuisine, detailsCuisine(it), body.cuisine()),
	}
	if food.Description == "" && it.DishDetails != nil {
		food.Description = it.DishDetails.Description
	}
	if food.Name == "" {
		food.Name = "Unknown dish"
	}
	return food
}

func (t *Transformer) buildDish(it item, body *payload) scan.DishItem {
	food := t.buildFood(it, body)
	food.ID = it.ID
	if food.ID == "" {
		food.ID = t.newID()
	}

	dish := scan.DishItem{
		FoodScanResult: *food,
		Currency:       it.Currency,
		IsSafe:         true,
		Warnings:       []string{},
	}
	if it.Price != nil {
		p := float64(*it.Price)
		dish.Price = &p
	}
	for _, a := range food.Allergens {
		if a.Severity != scan.SeveritySevere {
			continue
		}
		dish.IsSafe = false
		dish.Warnings = append(dish.Warnings, warningFor(a))
	}
	return dish
}

func warningFor(a scan.DetectedAllergen) string {
	if a.Source != "" {
		return fmt.Sprintf("Likely contains %s (from %s)", a.Type.DisplayName(), a.Source)
	}
	return fmt.Sprintf("Likely contains %s", a.Type.DisplayName())
}

// itemConfidence prefers the item's own score over the extraction score.
// Scores below 1 are fractions; 1 and above are already percentages.
func itemConfidence(it item, ex *extraction) int {
	v := float64(defaultConfidence)
	switch {
	case it.Confidence != nil:
		v = normalizeScore(float64(*it.Confidence))
	case ex != nil && ex.Confidence != nil:
		v = normalizeScore(float64(*ex.Confidence))
	}
	if it.DishDetails == nil && ex != nil && strings.EqualFold(strings.TrimSpace(ex.Quality), "low") && v > lowQualityCap {
		v = lowQualityCap
	}
	return int(math.Round(v))
}

func normalizeScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v < 1 {
		v *= 100
	}
	if v > 100 {
		v = 100
	}
	return v
}

func buildNutrition(it item) scan.Nutrition {
	src := it.Nutrition
	if it.DishDetails != nil && it.DishDetails.Nutrition != nil {
		src = it.DishDetails.Nutrition
	}
	if src == nil {
		return scan.Nutrition{}
	}
	fats := src.Fats
	if fats == nil {
		fats = src.Fat
	}
	return scan.Nutrition{
		Calories: nonNegative(src.Calories),
		Protein:  nonNegative(src.Protein),
		Carbs:    nonNegative(src.Carbs),
		Fats:     nonNegative(fats),
		Fiber:    optional(src.Fiber),
		Sugar:    optional(src.Sugar),
		Sodium:   optional(src.Sodium),
	}
}

func nonNegative(f *flexFloat) float64 {
	if f == nil || *f < 0 {
		return 0
	}
	return float64(*f)
}

func optional(f *flexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := nonNegative(f)
	return &v
}

func buildIngredients(it item, detected []scan.DetectedAllergen) []scan.Ingredient {
	if it.DishDetails == nil {
		return []scan.Ingredient{}
	}
	out := make([]scan.Ingredient, 0, len(it.DishDetails.Ingredients))
	for _, ing := range it.DishDetails.Ingredients {
		name := strings.TrimSpace(ing.Name)
		if name == "" {
			continue
		}
		var set []scan.AllergenType
		add := func(a scan.AllergenType) {
			for _, existing := range set {
				if existing == a {
					return
				}
			}
			set = append(set, a)
		}
		for _, declared := range ing.Allergens {
			add(scan.MatchAllergen(declared))
		}
		lower := strings.ToLower(name)
		for _, d := range detected {
			src := strings.ToLower(d.Source)
			if src != "" && (strings.Contains(lower, src) || strings.Contains(src, lower)) {
				add(d.Type)
			}
		}
		out = append(out, scan.Ingredient{Name: name, Amount: ing.Amount, Allergens: set})
	}
	return out
}

func detailsCuisine(it item) string {
	if it.DishDetails == nil {
		return ""
	}
	return it.DishDetails.Cuisine
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
