package assets

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderScanRequest(t *testing.T) {
	got := RenderScanRequest(ScanRequestData{Filename: "menu.jpg"})
	if !strings.Contains(got, `"menu.jpg"`) || strings.Contains(got, "Capture details") {
		t.Errorf("without context: %q", got)
	}

	got = RenderScanRequest(ScanRequestData{Filename: "menu.jpg", Context: "Pixel 8, 2026-03-01"})
	if !strings.Contains(got, "Capture details: Pixel 8, 2026-03-01") {
		t.Errorf("with context: %q", got)
	}
}

func TestEmbeddedAssets(t *testing.T) {
	if strings.TrimSpace(ScanSystemPrompt) == "" {
		t.Error("system prompt is empty")
	}
	if !json.Valid(SampleMenuResult) {
		t.Error("sample result is not valid JSON")
	}
}
