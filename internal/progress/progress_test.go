package progress

import (
	"testing"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

func TestPercentMapping(t *testing.T) {
	want := []int{10, 30, 45, 60, 70, 80, 90, 98}
	for i, stage := range scan.Stages {
		if got := Percent(stage); got != want[i] {
			t.Errorf("Percent(%s) = %d, want %d", stage, got, want[i])
		}
		if Percent(stage) >= Complete {
			t.Errorf("stage %s must stay below %d", stage, Complete)
		}
	}
}

func TestRecordStageOutOfOrder(t *testing.T) {
	m := New()

	if got := m.RecordStage(scan.StageExtraction, map[string]any{"items": 3}, scan.StatusCompleted); got != 30 {
		t.Errorf("extraction = %d, want 30", got)
	}
	if got := m.RecordStage(scan.StageValidation, nil, scan.StatusCompleted); got != 10 {
		t.Errorf("validation = %d, want 10", got)
	}
	if got := m.Display(); got != 30 {
		t.Errorf("Display() = %d, want 30 after out-of-order delivery", got)
	}

	rec, ok := m.Record(scan.StageExtraction)
	if !ok {
		t.Fatal("extraction record missing")
	}
	if rec.Data["items"] != 3 {
		t.Errorf("extraction data = %v", rec.Data)
	}
}

func TestRecordStageOverwrites(t *testing.T) {
	m := New()
	m.RecordStage(scan.StageFormatting, map[string]any{"v": 1}, scan.StatusProcessing)
	m.RecordStage(scan.StageFormatting, map[string]any{"v": 2}, scan.StatusCompleted)

	rec, _ := m.Record(scan.StageFormatting)
	if rec.Status != scan.StatusCompleted || rec.Data["v"] != 2 {
		t.Errorf("expected overwrite, got %+v", rec)
	}
	if m.Display() != 98 {
		t.Errorf("formatting must report 98, got %d", m.Display())
	}
}

func TestRecordStageUnknown(t *testing.T) {
	m := New()
	if got := m.RecordStage(scan.Stage("translation"), nil, scan.StatusProcessing); got != 0 {
		t.Errorf("unknown stage = %d, want 0", got)
	}
	if len(m.Snapshot()) != 0 {
		t.Error("unknown stages should not appear in the snapshot")
	}
}

func TestSnapshotOrder(t *testing.T) {
	m := New()
	m.RecordStage(scan.StageNutritionAnalysis, nil, scan.StatusCompleted)
	m.RecordStage(scan.StageValidation, nil, scan.StatusCompleted)

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].Stage != scan.StageValidation || snap[1].Stage != scan.StageNutritionAnalysis {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
