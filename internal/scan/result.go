package scan

import (
	"math"
	"time"
)

// Nutrition holds per-dish macro and micro nutrients. Missing values are zero.
type Nutrition struct {
	Calories float64  `json:"calories"`
	Protein  float64  `json:"protein"`
	Carbs    float64  `json:"carbs"`
	Fats     float64  `json:"fats"`
	Fiber    *float64 `json:"fiber,omitempty"`
	Sugar    *float64 `json:"sugar,omitempty"`
	Sodium   *float64 `json:"sodium,omitempty"`
}

// Ingredient is a named component of a dish and the allergens it carries.
type Ingredient struct {
	Name      string         `json:"name"`
	Amount    string         `json:"amount,omitempty"`
	Allergens []AllergenType `json:"allergens,omitempty"`
}

// FoodScanResult describes a single analyzed dish.
type FoodScanResult struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Confidence  int                `json:"confidence"`
	ImageRef    string             `json:"imageRef"`
	Nutrition   Nutrition          `json:"nutrition"`
	Ingredients []Ingredient       `json:"ingredients"`
	Allergens   []DetectedAllergen `json:"allergens"`
	Timestamp   time.Time          `json:"timestamp"`
	Description string             `json:"description,omitempty"`
	Cuisine     string             `json:"cuisine,omitempty"`
}

// DishItem is one dish on a scanned menu.
type DishItem struct {
	FoodScanResult
	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"currency,omitempty"`
	IsSafe   bool     `json:"isSafe"`
	Warnings []string `json:"warnings"`
}

// MenuScanResult describes a scanned menu. SafeCount+UnsafeCount always
// equals TotalDishes.
type MenuScanResult struct {
	ID          string     `json:"id"`
	ImageRef    string     `json:"imageRef"`
	Timestamp   time.Time  `json:"timestamp"`
	Dishes      []DishItem `json:"dishes"`
	TotalDishes int        `json:"totalDishes"`
	SafeCount   int        `json:"safeCount"`
	UnsafeCount int        `json:"unsafeCount"`
	Cuisine     string     `json:"cuisine,omitempty"`
	Language    string     `json:"language,omitempty"`
}

// Result is either a *FoodScanResult or a *MenuScanResult.
type Result interface {
	ResultID() string
	ResultConfidence() int
	DetectedAllergens() []DetectedAllergen
	isResult()
}

func (r *FoodScanResult) ResultID() string                      { return r.ID }
func (r *FoodScanResult) ResultConfidence() int                 { return r.Confidence }
func (r *FoodScanResult) DetectedAllergens() []DetectedAllergen { return r.Allergens }
func (*FoodScanResult) isResult()                               {}

func (r *MenuScanResult) ResultID() string { return r.ID }

// ResultConfidence is the rounded mean of the dish confidences.
func (r *MenuScanResult) ResultConfidence() int {
	if len(r.Dishes) == 0 {
		return 0
	}
	sum := 0
	for _, d := range r.Dishes {
		sum += d.Confidence
	}
	return int(math.Round(float64(sum) / float64(len(r.Dishes))))
}

// DetectedAllergens concatenates every dish's allergens in dish order.
func (r *MenuScanResult) DetectedAllergens() []DetectedAllergen {
	var out []DetectedAllergen
	for _, d := range r.Dishes {
		out = append(out, d.Allergens...)
	}
	return out
}

func (*MenuScanResult) isResult() {}

// SafetyLevel is the outcome of evaluating a result against a profile.
type SafetyLevel string

const (
	SafetySafe    SafetyLevel = "safe"
	SafetyWarning SafetyLevel = "warning"
	SafetyDanger  SafetyLevel = "danger"
)

// SafetyClassification is the evaluator's verdict for one result.
type SafetyClassification struct {
	Level            SafetyLevel        `json:"level"`
	MatchedAllergens []DetectedAllergen `json:"matchedAllergens"`
	Message          string             `json:"message"`
	Score            int                `json:"score"`
}
