// Package metrics writes telemetry in the CloudWatch Embedded Metrics Format
// (EMF): one JSON object per line, with an _aws directive naming the metrics.
// Lines can be shipped to CloudWatch as-is or read locally with jq.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitPercent      = "Percent"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Sink serializes flushed records onto a writer. It is safe for concurrent
// use; each record is written as one line.
type Sink struct {
	mu        sync.Mutex
	w         io.Writer
	namespace string
	defaults  map[string]string
	now       func() time.Time
}

// NewSink creates a sink writing to w under the given namespace.
func NewSink(w io.Writer, namespace string) *Sink {
	return &Sink{w: w, namespace: namespace, defaults: make(map[string]string), now: time.Now}
}

// DefaultDimension adds a dimension to every record created afterwards.
func (s *Sink) DefaultDimension(key, value string) *Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[key] = value
	return s
}

// Open returns a sink for a destination path. "-" and "stdout" mean
// standard output; anything else is opened for append. The returned closer
// must be closed when done.
func Open(dest, namespace string) (*Sink, io.Closer, error) {
	switch dest {
	case "-", "stdout":
		return NewSink(os.Stdout, namespace), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics file: %w", err)
	}
	return NewSink(f, namespace), f, nil
}

// Recorder accumulates dimensions, metrics, and properties for a single flush.
// It is not safe for concurrent use; create one per operation.
type Recorder struct {
	sink       *Sink
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

// New creates a Recorder. A nil sink yields a recorder whose Flush does
// nothing, so callers need not check whether telemetry is enabled.
func (s *Sink) New() *Recorder {
	r := &Recorder{
		sink:       s,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	if s != nil {
		s.mu.Lock()
		for k, v := range s.defaults {
			r.dimensions[k] = v
		}
		s.mu.Unlock()
	}
	return r
}

// Dimension adds a dimension key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named metric value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count is a convenience for recording a count metric (value = 1).
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a non-metric field to the document.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the record as a single JSON line. Records without metrics
// are dropped. The Recorder should not be reused afterwards.
func (r *Recorder) Flush() {
	if r.sink == nil || len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]interface{})

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metricDefs := make([]metricDef, 0, len(names))
	for _, name := range names {
		metricDefs = append(metricDefs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()

	doc["_aws"] = emfDirective{
		Timestamp: r.sink.now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.sink.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal metrics record")
		return
	}
	data = append(data, '\n')
	if _, err := r.sink.w.Write(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write metrics record")
	}
}
