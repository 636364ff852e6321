// Package assets provides embedded prompts and sample payloads for the
// development scan server.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// ScanSystemPrompt tells the model what a menu or dish analysis must return.
//
//go:embed prompts/scan-system.txt
var ScanSystemPrompt string

//go:embed prompts/scan-request.txt
var scanRequestTemplate string

// SampleMenuResult is a complete analysis payload in the backend's wire
// format. It is served when no model is configured.
//
//go:embed fixtures/sample-menu.json
var SampleMenuResult []byte

// Pre-parsed so a malformed template fails at startup.
var scanRequestTmpl = template.Must(template.New("scan-request").Parse(scanRequestTemplate))

// ScanRequestData is injected into the scan request template.
type ScanRequestData struct {
	Filename string
	// Context is a short description of the capture (camera, time), or empty.
	Context string
}

// RenderScanRequest renders the per-image request prompt.
func RenderScanRequest(data ScanRequestData) string {
	var buf bytes.Buffer
	// The template has no failing actions; whatever rendered is returned.
	_ = scanRequestTmpl.Execute(&buf, data)
	return buf.String()
}
