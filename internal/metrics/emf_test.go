package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSink_DefaultDimension(t *testing.T) {
	sink := NewSink(&bytes.Buffer{}, "TestNamespace").DefaultDimension("Client", "cli")

	r := sink.New()
	if r.dimensions["Client"] != "cli" {
		t.Errorf("expected Client dimension cli, got %s", r.dimensions["Client"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, "TasteBuddy")
	sink.now = func() time.Time { return time.UnixMilli(1700000000000) }

	sink.New().
		Dimension("Transport", "sse").
		Metric("DurationMs", 1234.5, UnitMilliseconds).
		Metric("Fallbacks", 1, UnitCount).
		Property("jobId", "job-123").
		Flush()

	output := buf.String()
	if !strings.HasSuffix(output, "\n") || strings.Count(output, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", output)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, output)
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if awsMap["Timestamp"] != float64(1700000000000) {
		t.Errorf("Timestamp = %v", awsMap["Timestamp"])
	}

	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != "TasteBuddy" {
		t.Errorf("expected namespace TasteBuddy, got %v", cw["Namespace"])
	}
	defs := cw["Metrics"].([]interface{})
	if len(defs) != 2 || defs[0].(map[string]interface{})["Name"] != "DurationMs" {
		t.Errorf("metric definitions = %v", defs)
	}

	if doc["Transport"] != "sse" {
		t.Errorf("expected Transport=sse, got %v", doc["Transport"])
	}
	if doc["DurationMs"] != 1234.5 {
		t.Errorf("expected DurationMs=1234.5, got %v", doc["DurationMs"])
	}
	if doc["jobId"] != "job-123" {
		t.Errorf("expected jobId=job-123, got %v", doc["jobId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewSink(&buf, "Test").New().Property("id", "x").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for recorder without metrics, got: %s", buf.String())
	}
}

func TestRecorder_NilSink(t *testing.T) {
	var sink *Sink
	// Must not panic.
	sink.New().Count("Calls").Flush()
}

func TestRecorder_Chaining(t *testing.T) {
	rec := NewSink(&bytes.Buffer{}, "Test").New().
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != float64(100) {
		t.Error("chaining Metric failed")
	}
	if m := rec.metrics["Calls"]; rec.values["Calls"] != float64(1) || m.Unit != UnitCount {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}

func TestOpen_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")

	for i := 0; i < 2; i++ {
		sink, closer, err := Open(path, "Test")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		sink.New().Count("Scans").Flush()
		closer.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected 2 lines, got %d", n)
	}
}
