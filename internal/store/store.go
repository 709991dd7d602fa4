// Package store keeps run records: what happened to each item in a run and
// every failed stage attempt. Records are informational. Resume never
// consults them; the artifacts in the ledger remain the only completion
// state.
//
// The DynamoDB implementation uses a single-table design where every record
// of a run shares the partition key RUN#{runId}. Sort keys distinguish the
// record types: META, ITEM#{key} and FAIL#{key}#{stage}#{attempt}. A TTL
// attribute (expiresAt) removes records after 30 days.
package store

import (
	"context"
	"time"

	"github.com/sunzc-sunny/RDAnnotator/internal/faillog"
	"github.com/sunzc-sunny/RDAnnotator/internal/pipeline"
)

// RecordTTL is the time-to-live for every run record.
const RecordTTL = 30 * 24 * time.Hour

// Run status values.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// Item status values.
const (
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
)

// RunStore persists run records. It doubles as the pipeline's item sink and
// as a failure-log sink.
//
// Get methods return (nil, nil) when the record does not exist.
type RunStore interface {
	StartRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, runID string, sum RunSummary, status string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListItems(ctx context.Context, runID string) ([]ItemRecord, error)

	pipeline.ItemSink
	faillog.Sink
}

// Run is the META record of a run.
type Run struct {
	RunID      string `json:"runId" dynamodbav:"-"`
	Mode       string `json:"mode" dynamodbav:"mode"`
	Status     string `json:"status" dynamodbav:"status"`
	Items      int    `json:"items" dynamodbav:"items"`
	Workers    int    `json:"workers" dynamodbav:"workers"`
	Model      string `json:"model,omitempty" dynamodbav:"model,omitempty"`
	StartedAt  int64  `json:"startedAt" dynamodbav:"startedAt"`
	FinishedAt int64  `json:"finishedAt,omitempty" dynamodbav:"finishedAt,omitempty"`

	RunSummary
}

// RunSummary holds the counts written when a run finishes.
type RunSummary struct {
	Completed    int `json:"completed" dynamodbav:"completed"`
	Failed       int `json:"failed" dynamodbav:"failed"`
	Colorable    int `json:"colorable" dynamodbav:"colorable"`
	NotColorable int `json:"notColorable" dynamodbav:"notColorable"`
	Ambiguous    int `json:"ambiguous" dynamodbav:"ambiguous"`
}

// SummaryOf extracts the counts from a run's state.
func SummaryOf(state *pipeline.RunState) RunSummary {
	return RunSummary{
		Completed:    state.Completed(),
		Failed:       state.Failed(),
		Colorable:    len(state.Buckets.Colorable),
		NotColorable: len(state.Buckets.NotColorable),
		Ambiguous:    len(state.Buckets.Ambiguous),
	}
}

// ItemRecord is the final state of one item in a run.
type ItemRecord struct {
	Key       string            `json:"key" dynamodbav:"-"`
	Status    string            `json:"status" dynamodbav:"status"`
	Route     string            `json:"route,omitempty" dynamodbav:"route,omitempty"`
	Stages    map[string]string `json:"stages,omitempty" dynamodbav:"stages,omitempty"`
	Calls     int               `json:"calls" dynamodbav:"calls"`
	Error     string            `json:"error,omitempty" dynamodbav:"error,omitempty"`
	UpdatedAt int64             `json:"updatedAt" dynamodbav:"updatedAt"`
}

// NewItemRecord converts a pipeline item result.
func NewItemRecord(r pipeline.ItemResult, now time.Time) *ItemRecord {
	rec := &ItemRecord{
		Key:       r.Key,
		Status:    ItemStatusCompleted,
		Calls:     r.Calls(),
		UpdatedAt: now.Unix(),
	}
	if r.Routed {
		rec.Route = r.Route.String()
	}
	if len(r.Stages) > 0 {
		rec.Stages = make(map[string]string, len(r.Stages))
		for _, s := range r.Stages {
			rec.Stages[string(s.Stage)] = s.Outcome.String()
		}
	}
	if r.Err != nil {
		rec.Status = ItemStatusFailed
		rec.Error = r.Err.Error()
	}
	return rec
}

// FailureRecord is one failed stage attempt.
type FailureRecord struct {
	Item    string `dynamodbav:"item"`
	Stage   string `dynamodbav:"stage"`
	Attempt int    `dynamodbav:"attempt"`
	Final   bool   `dynamodbav:"final"`
	Kind    string `dynamodbav:"kind"`
	Message string `dynamodbav:"message"`
	Time    int64  `dynamodbav:"time"`
}
