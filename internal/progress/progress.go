// Package progress maps pipeline stages onto a user-visible percentage and
// keeps the latest data reported for each stage.
package progress

import (
	"sync"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// Complete is reserved for the terminal completion event. No stage maps to it.
const Complete = 100

var stagePercent = map[scan.Stage]int{
	scan.StageValidation:        10,
	scan.StageExtraction:        30,
	scan.StageDishUnderstanding: 45,
	scan.StageAllergenAnalysis:  60,
	scan.StageDietaryAnalysis:   70,
	scan.StageNutritionAnalysis: 80,
	scan.StagePriceAnalysis:     90,
	scan.StageFormatting:        98,
}

// Percent returns the fixed percentage for a stage, or 0 for an unknown one.
func Percent(stage scan.Stage) int {
	return stagePercent[stage]
}

// StageRecord is the last status and data seen for a stage.
type StageRecord struct {
	Status scan.StageStatus
	Data   map[string]any
}

// Model accumulates stage data for one job. Safe for concurrent use.
type Model struct {
	mu      sync.Mutex
	records map[scan.Stage]StageRecord
	display int
}

// New returns an empty Model.
func New() *Model {
	return &Model{records: make(map[scan.Stage]StageRecord)}
}

// RecordStage stores data under the stage, overwriting earlier data, and
// returns the stage's mapped percentage. The return value does not depend on
// arrival order. Unknown stages are stored and report 0.
func (m *Model) RecordStage(stage scan.Stage, data map[string]any, status scan.StageStatus) int {
	pct := Percent(stage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[stage] = StageRecord{Status: status, Data: data}
	if pct > m.display {
		m.display = pct
	}
	return pct
}

// Display is the highest percentage recorded so far. It never decreases,
// so a late stage_update for an earlier stage cannot move a progress bar back.
func (m *Model) Display() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.display
}

// Record returns the stored record for a stage.
func (m *Model) Record(stage scan.Stage) (StageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[stage]
	return r, ok
}

// Snapshot returns the recorded stages in pipeline order. Unknown stages are
// omitted.
func (m *Model) Snapshot() []scan.StageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scan.StageEvent, 0, len(m.records))
	for _, s := range scan.Stages {
		if r, ok := m.records[s]; ok {
			out = append(out, scan.StageEvent{Stage: s, Status: r.Status, Data: r.Data})
		}
	}
	return out
}
