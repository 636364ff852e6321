// Package scan defines the domain model shared by the scan pipeline:
// jobs, stage events, analysis results and allergen profiles.
package scan

import "time"

// Job is an accepted server-side analysis job.
type Job struct {
	ID            string `json:"jobId"`
	StreamAddress string `json:"streamAddress,omitempty"`
	ImageRef      string `json:"imageRef"`
}

// Stage names one step of the server-side analysis pipeline.
type Stage string

const (
	StageValidation        Stage = "validation"
	StageExtraction        Stage = "extraction"
	StageDishUnderstanding Stage = "dish_understanding"
	StageAllergenAnalysis  Stage = "allergen_analysis"
	StageDietaryAnalysis   Stage = "dietary_analysis"
	StageNutritionAnalysis Stage = "nutrition_analysis"
	StagePriceAnalysis     Stage = "price_analysis"
	StageFormatting        Stage = "formatting"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageValidation,
	StageExtraction,
	StageDishUnderstanding,
	StageAllergenAnalysis,
	StageDietaryAnalysis,
	StageNutritionAnalysis,
	StagePriceAnalysis,
	StageFormatting,
}

// StageStatus is the state of a single stage.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// StageEvent reports progress of one stage.
type StageEvent struct {
	Stage     Stage          `json:"stage"`
	Status    StageStatus    `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
