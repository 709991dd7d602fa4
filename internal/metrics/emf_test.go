package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "rda-proxy"
	defer func() { functionName = "" }()

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("expected namespace TestNamespace, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "rda-proxy" {
		t.Errorf("expected FunctionName dimension rda-proxy, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf)
	defer Configure(nil)
	functionName = ""

	New(Namespace).
		Dimension("Stage", "caption").
		Metric("VlmApiLatencyMs", 1234.5, UnitMilliseconds).
		Count("VlmApiCalls").
		Property("item", "0000001_00000_d_0000001").
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}
	if doc["Stage"] != "caption" {
		t.Errorf("expected Stage=caption, got %v", doc["Stage"])
	}
	if doc["VlmApiLatencyMs"] != 1234.5 {
		t.Errorf("expected VlmApiLatencyMs=1234.5, got %v", doc["VlmApiLatencyMs"])
	}
	if doc["VlmApiCalls"] != float64(1) {
		t.Errorf("expected VlmApiCalls=1, got %v", doc["VlmApiCalls"])
	}
	if doc["item"] != "0000001_00000_d_0000001" {
		t.Errorf("expected item property, got %v", doc["item"])
	}
}

func TestRecorder_FlushDisabled(t *testing.T) {
	Configure(nil)
	if Enabled() {
		t.Fatal("expected metrics disabled")
	}
	// Nothing to assert beyond not panicking with a nil writer.
	New(Namespace).Count("VlmApiCalls").Flush()
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf)
	defer Configure(nil)

	New("Test").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestConfigureFromEnv(t *testing.T) {
	defer Configure(nil)

	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	t.Setenv("RDA_METRICS", "")
	ConfigureFromEnv()
	if Enabled() {
		t.Error("metrics should be off without RDA_METRICS")
	}

	t.Setenv("RDA_METRICS", "emf")
	ConfigureFromEnv()
	if !Enabled() {
		t.Error("metrics should be on with RDA_METRICS=emf")
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Stage", "color_check").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Stage"] != "color_check" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != float64(100) {
		t.Error("chaining Metric failed")
	}
	if m, ok := rec.metrics["Calls"]; !ok || m.Unit != UnitCount {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}
