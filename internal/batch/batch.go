// Package batch runs a single stage asynchronously through a provider batch
// API. Requests are built by the same stage client used online, so a batch
// artifact is indistinguishable from one produced by the pipeline. A JSON
// manifest per stage tracks submitted jobs between submit and fetch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// MaxPerJob is the number of requests submitted per batch job.
const MaxPerJob = 60

// State is the coarse lifecycle of a batch job.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Request is one keyed stage request.
type Request struct {
	Key string
	Req vlm.Request
}

// Result is one item's outcome inside a finished job. Key may be empty when
// the backend only preserves order.
type Result struct {
	Key     string
	Choices []string
	Err     error
}

// Status is a snapshot of a submitted job.
type Status struct {
	State   State
	Message string
	Results []Result
}

// Backend submits and polls batch jobs.
type Backend interface {
	Submit(ctx context.Context, displayName string, reqs []Request) (string, error)
	Get(ctx context.Context, name string) (*Status, error)
}

// Builder is the part of a stage client batch mode needs.
type Builder interface {
	Stage() ledger.Stage
	BuildRequest(ctx context.Context, item stage.Item) (vlm.Request, error)
	JoinChoices(choices []string) string
}

var _ Builder = (*stage.Client)(nil)

// Options configures a Batcher.
type Options struct {
	Backend Backend
	Ledger  ledger.Ledger
	// Dir holds the per-stage manifests.
	Dir    string
	Logger zerolog.Logger
	Now    func() time.Time
}

// Batcher submits and collects batch jobs for stage clients.
type Batcher struct {
	backend Backend
	ledger  ledger.Ledger
	dir     string
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a Batcher. Backend may be nil when only Build is used.
func New(opts Options) (*Batcher, error) {
	if opts.Ledger == nil {
		return nil, errors.New("batch requires a ledger")
	}
	if opts.Dir == "" {
		return nil, errors.New("batch requires a manifest directory")
	}
	b := &Batcher{
		backend: opts.Backend,
		ledger:  opts.Ledger,
		dir:     opts.Dir,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

// BuildSummary counts how items were handled while building requests.
type BuildSummary struct {
	Built   int
	Skipped int
	Nothing int
	Failed  int
}

// Build assembles requests for every item that still lacks the client's
// artifact. Items with missing prerequisites are logged and counted, never
// fatal; a regenerate with nothing to revise is counted separately.
func (b *Batcher) Build(ctx context.Context, client Builder, items []stage.Item) ([]Request, BuildSummary, error) {
	var (
		reqs []Request
		sum  BuildSummary
	)
	s := client.Stage()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return reqs, sum, err
		}
		done, err := b.ledger.Has(ctx, item.Key, s)
		if err != nil {
			return reqs, sum, fmt.Errorf("check %s/%s: %w", s, item.Key, err)
		}
		if done {
			sum.Skipped++
			continue
		}
		req, err := client.BuildRequest(ctx, item)
		switch {
		case errors.Is(err, stage.ErrNothingToRegenerate):
			sum.Nothing++
			continue
		case err != nil:
			b.logger.Warn().Err(err).Str("item", item.Key).Str("stage", string(s)).Msg("Skipping item")
			sum.Failed++
			continue
		}
		reqs = append(reqs, Request{Key: item.Key, Req: req})
		sum.Built++
	}
	return reqs, sum, nil
}

// SubmitSummary reports a submit pass.
type SubmitSummary struct {
	BuildSummary
	// InFlight counts items skipped because an unfinished job already holds them.
	InFlight int
	Jobs     []string
}

// Submit builds requests for items and submits them in jobs of MaxPerJob.
// The manifest is saved after every job so a crash loses at most the job
// being created.
func (b *Batcher) Submit(ctx context.Context, client Builder, items []stage.Item) (*SubmitSummary, error) {
	if b.backend == nil {
		return nil, errors.New("batch submit requires a backend")
	}
	s := client.Stage()
	path := ManifestPath(b.dir, s)
	m, err := LoadManifest(path, s)
	if err != nil {
		return nil, err
	}

	pending := m.PendingKeys()
	sum := &SubmitSummary{}
	var todo []stage.Item
	for _, item := range items {
		if pending[item.Key] {
			sum.InFlight++
			continue
		}
		todo = append(todo, item)
	}

	reqs, built, err := b.Build(ctx, client, todo)
	sum.BuildSummary = built
	if err != nil {
		return sum, err
	}

	for start := 0; start < len(reqs); start += MaxPerJob {
		chunk := reqs[start:min(start+MaxPerJob, len(reqs))]
		display := fmt.Sprintf("%s-%d", s, len(m.Jobs))
		name, err := b.backend.Submit(ctx, display, chunk)
		if err != nil {
			return sum, fmt.Errorf("submit %s: %w", display, err)
		}
		keys := make([]string, len(chunk))
		for i, r := range chunk {
			keys[i] = r.Key
		}
		m.Jobs = append(m.Jobs, Job{
			Name:        name,
			Stage:       s,
			Keys:        keys,
			State:       StatePending,
			SubmittedAt: b.now().UTC(),
		})
		if err := m.Save(path); err != nil {
			return sum, err
		}
		sum.Jobs = append(sum.Jobs, name)
		b.logger.Info().
			Str("stage", string(s)).
			Str("job", name).
			Int("requests", len(chunk)).
			Msg("Batch job submitted")
	}
	return sum, nil
}

// FetchSummary reports a fetch pass.
type FetchSummary struct {
	Written     int
	ItemsFailed int
	Pending     int
	JobsDone    int
	JobsFailed  int
}

// Fetch polls every unfinished job in the stage manifest and writes the
// results of succeeded jobs to the ledger. Pending jobs stay in the
// manifest for a later fetch.
func (b *Batcher) Fetch(ctx context.Context, client Builder) (*FetchSummary, error) {
	if b.backend == nil {
		return nil, errors.New("batch fetch requires a backend")
	}
	s := client.Stage()
	path := ManifestPath(b.dir, s)
	m, err := LoadManifest(path, s)
	if err != nil {
		return nil, err
	}

	sum := &FetchSummary{}
	for i := range m.Jobs {
		job := &m.Jobs[i]
		if job.State != StatePending {
			continue
		}
		st, err := b.backend.Get(ctx, job.Name)
		if err != nil {
			return sum, fmt.Errorf("get %s: %w", job.Name, err)
		}
		switch st.State {
		case StatePending:
			sum.Pending++
			b.logger.Info().Str("job", job.Name).Msg("Batch job still running")
			continue
		case StateFailed:
			sum.JobsFailed++
			job.State = StateFailed
			job.Message = st.Message
			b.logger.Error().Str("job", job.Name).Str("reason", st.Message).Msg("Batch job failed")
		case StateSucceeded:
			written, failed, err := b.collect(ctx, client, job, st.Results)
			sum.Written += written
			sum.ItemsFailed += failed
			if err != nil {
				return sum, err
			}
			sum.JobsDone++
			job.State = StateSucceeded
		}
		job.FinishedAt = b.now().UTC()
		if err := m.Save(path); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (b *Batcher) collect(ctx context.Context, client Builder, job *Job, results []Result) (written, failed int, err error) {
	s := client.Stage()
	for i, r := range results {
		key := r.Key
		if key == "" && i < len(job.Keys) {
			key = job.Keys[i]
		}
		if key == "" {
			failed++
			continue
		}
		if r.Err != nil {
			b.logger.Warn().Err(r.Err).Str("item", key).Str("job", job.Name).Msg("Batch request failed")
			failed++
			continue
		}
		text := client.JoinChoices(r.Choices)
		if !ledger.Valid(text) {
			b.logger.Warn().Str("item", key).Str("job", job.Name).Msg("Batch response empty")
			failed++
			continue
		}
		if err := b.ledger.Write(ctx, key, s, text); err != nil {
			return written, failed, err
		}
		written++
	}
	if len(results) < len(job.Keys) {
		failed += len(job.Keys) - len(results)
	}
	return written, failed, nil
}
