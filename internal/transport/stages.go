package transport

import (
	"reflect"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

type stageKey struct {
	stage  scan.Stage
	status scan.StageStatus
}

// StageFilter drops stage updates that repeat the data last seen for the
// same stage and status. An update with new data passes and replaces it.
// Not safe for concurrent use.
type StageFilter struct {
	last map[stageKey]map[string]any
}

func NewStageFilter() *StageFilter {
	return &StageFilter{last: make(map[stageKey]map[string]any)}
}

// Fresh reports whether the update should be delivered.
func (f *StageFilter) Fresh(stage scan.Stage, status scan.StageStatus, data map[string]any) bool {
	key := stageKey{stage, status}
	if prev, ok := f.last[key]; ok && reflect.DeepEqual(prev, data) {
		return false
	}
	f.last[key] = data
	return true
}
