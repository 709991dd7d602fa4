package vlm

import (
	"time"

	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
)

// observeCall emits the per-call latency, count, error and token metrics.
func observeCall(stage, backend string, elapsed time.Duration, err error, resp *Response) {
	m := metrics.New(metrics.Namespace).
		Dimension("Stage", stage).
		Dimension("Backend", backend).
		Metric("VlmApiLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("VlmApiCalls")
	if err != nil {
		m.Count("VlmApiErrors")
	}
	if resp != nil {
		if resp.InputTokens > 0 {
			m.Metric("VlmInputTokens", float64(resp.InputTokens), metrics.UnitCount)
		}
		if resp.OutputTokens > 0 {
			m.Metric("VlmOutputTokens", float64(resp.OutputTokens), metrics.UnitCount)
		}
	}
	m.Flush()
}
