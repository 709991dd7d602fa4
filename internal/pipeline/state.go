package pipeline

import (
	"sync"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
)

// Outcome is what happened to one stage of one item.
type Outcome int

const (
	// OutcomeCached: a valid artifact already existed; no call was made.
	OutcomeCached Outcome = iota
	// OutcomeProduced: the stage client ran and the artifact was written.
	OutcomeProduced
	// OutcomeNothingToDo: regenerate found no rejected statement.
	OutcomeNothingToDo
	// OutcomeFailed: the stage failed after the retry policy gave up.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCached:
		return "cached"
	case OutcomeProduced:
		return "produced"
	case OutcomeNothingToDo:
		return "nothing_to_do"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageResult records one stage transition.
type StageResult struct {
	Stage   ledger.Stage
	Outcome Outcome
}

// ItemResult is the outcome of one item's pipeline.
type ItemResult struct {
	Key    string
	Route  route.Route
	Routed bool
	Stages []StageResult
	Err    error
}

// Calls returns the number of stages that reached a model call.
func (r ItemResult) Calls() int {
	n := 0
	for _, s := range r.Stages {
		if s.Outcome == OutcomeProduced || s.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// RunState is the process-wide state of one run: route buckets and item
// outcomes. It lives only as long as the run; the artifacts are the resume
// state.
type RunState struct {
	RunID   string
	Buckets route.Buckets

	mu        sync.Mutex
	results   []ItemResult
	completed int
	failed    int
}

func newRunState(runID string) *RunState {
	return &RunState{RunID: runID}
}

func (s *RunState) add(r ItemResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	if r.Routed {
		s.Buckets.Add(r.Key, r.Route)
	}
	if r.Err != nil {
		s.failed++
	} else {
		s.completed++
	}
}

// Results returns the item results in completion order.
func (s *RunState) Results() []ItemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ItemResult(nil), s.results...)
}

// Completed returns the number of items that reached the terminal state.
func (s *RunState) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Failed returns the number of items that stopped on an error.
func (s *RunState) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
