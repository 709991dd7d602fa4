// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents:
// structured JSON lines that CloudWatch Logs turns into metrics without any
// API call. Emission is off by default; Configure enables it for a writer.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for all pipeline metrics.
const Namespace = "RDAnnotator"

// CloudWatch metric units used by the pipeline.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type directive struct {
	Timestamp         int64       `json:"Timestamp"`
	CloudWatchMetrics []metricSet `json:"CloudWatchMetrics"`
}

type metricSet struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder collects one EMF document. Use one per operation; it is not
// safe for concurrent use.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]any
}

var (
	mu      sync.Mutex
	out     io.Writer
	enabled bool

	// functionName is read from AWS_LAMBDA_FUNCTION_NAME once.
	functionName string
	initOnce     sync.Once
)

// Configure turns emission on for w, or off when w is nil.
func Configure(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	enabled = w != nil
}

// ConfigureFromEnv enables stdout emission when RDA_METRICS=emf or when
// running inside Lambda, where stdout is shipped to CloudWatch Logs.
func ConfigureFromEnv() {
	if os.Getenv("RDA_METRICS") == "emf" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		Configure(os.Stdout)
		return
	}
	Configure(nil)
}

// Enabled reports whether Flush writes anything.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// New starts a document in namespace. Inside Lambda the FunctionName
// dimension is added.
func New(namespace string) *Recorder {
	initOnce.Do(func() { functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME") })
	r := &Recorder{
		namespace:  namespace,
		dimensions: map[string]string{},
		metrics:    map[string]metricDef{},
		values:     map[string]float64{},
		properties: map[string]any{},
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records name with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a field that is logged but not turned into a metric.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the document as one JSON line. Nothing is written when
// emission is off or no metric was recorded.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if !enabled {
		return
	}

	defs := make([]metricDef, 0, len(r.metrics))
	for _, name := range slices.Sorted(maps.Keys(r.metrics)) {
		defs = append(defs, r.metrics[name])
	}
	doc := make(map[string]any, 1+len(r.dimensions)+len(r.values)+len(r.properties))
	doc["_aws"] = directive{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []metricSet{{
			Namespace:  r.namespace,
			Dimensions: [][]string{slices.Sorted(maps.Keys(r.dimensions))},
			Metrics:    defs,
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
		fmt.Fprintf(os.Stderr, "emf: marshal metrics: %v\n", err)
		return
	}
	out.Write(append(data, '\n'))
}
