// Package pipeline is the annotation orchestrator. Each item moves through
// a state machine with a shared head and two branches:
//
//	caption -> color check -> Colorable:            annotate -> verify -> regenerate (color)
//	                          NotColorable/Ambiguous: annotate -> verify -> regenerate (noncolor)
//
// Every transition consults the ledger first and skips stages whose artifact
// already exists, so an interrupted run resumes where it stopped. A failure
// ends only the failing item; the run continues with the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
)

// StageClient produces one stage's artifact for an item.
type StageClient interface {
	Stage() ledger.Stage
	Complete(ctx context.Context, item stage.Item) (string, error)
}

// Compile-time interface check.
var _ StageClient = (*stage.Client)(nil)

// ItemSink receives every finished item, e.g. to persist run records.
type ItemSink interface {
	RecordItem(ctx context.Context, runID string, r ItemResult) error
}

// ItemSinkFunc adapts a function to ItemSink.
type ItemSinkFunc func(ctx context.Context, runID string, r ItemResult) error

func (fn ItemSinkFunc) RecordItem(ctx context.Context, runID string, r ItemResult) error {
	return fn(ctx, runID, r)
}

// Branch stage orders.
var (
	ColorBranch = []ledger.Stage{
		ledger.StageColorAnnotate,
		ledger.StageColorVerify,
		ledger.StageColorRegenerate,
	}
	NoncolorBranch = []ledger.Stage{
		ledger.StageNoncolorAnnotate,
		ledger.StageNoncolorVerify,
		ledger.StageNoncolorRegenerate,
	}
)

// BranchFor returns the stages an item on r goes through after routing.
func BranchFor(r route.Route) []ledger.Stage {
	if r.ColorBranch() {
		return ColorBranch
	}
	return NoncolorBranch
}

// Options configures an Orchestrator.
type Options struct {
	Ledger ledger.Ledger
	// Clients holds one client per stage. Stages without a client fail the
	// items that reach them.
	Clients []StageClient
	Policy  retry.Policy
	// Workers bounds how many items run at once. Defaults to 1.
	Workers int
	RunID   string
	Sink    ItemSink
	Logger  zerolog.Logger
}

// Orchestrator drives items through the stage state machine.
type Orchestrator struct {
	ledger  ledger.Ledger
	clients map[ledger.Stage]StageClient
	policy  retry.Policy
	workers int
	runID   string
	sink    ItemSink
	logger  zerolog.Logger
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Ledger == nil {
		return nil, errors.New("orchestrator requires a ledger")
	}
	clients := make(map[ledger.Stage]StageClient, len(opts.Clients))
	for _, c := range opts.Clients {
		if c == nil {
			continue
		}
		if _, dup := clients[c.Stage()]; dup {
			return nil, fmt.Errorf("duplicate client for stage %s", c.Stage())
		}
		clients[c.Stage()] = c
	}
	if _, ok := clients[ledger.StageCaption]; !ok {
		return nil, errors.New("orchestrator requires a caption client")
	}
	policy := opts.Policy
	if policy.RunID == "" {
		policy.RunID = opts.RunID
	}
	return &Orchestrator{
		ledger:  opts.Ledger,
		clients: clients,
		policy:  policy,
		workers: max(1, opts.Workers),
		runID:   opts.RunID,
		sink:    opts.Sink,
		logger:  opts.Logger,
	}, nil
}

// Run processes every item through the full state machine, routing each by
// its color check verdict.
func (o *Orchestrator) Run(ctx context.Context, items []stage.Item) (*RunState, error) {
	if _, ok := o.clients[ledger.StageColorCheck]; !ok {
		return nil, errors.New("full run requires a color check client")
	}
	return o.runAll(ctx, items, o.RunItem)
}

// RunBypass processes every item on a pre-known route, skipping the color
// check.
func (o *Orchestrator) RunBypass(ctx context.Context, items []stage.Item, r route.Route) (*RunState, error) {
	return o.runAll(ctx, items, func(ctx context.Context, item stage.Item) ItemResult {
		return o.RunItemBypass(ctx, item, r)
	})
}

func (o *Orchestrator) runAll(ctx context.Context, items []stage.Item, run func(context.Context, stage.Item) ItemResult) (*RunState, error) {
	state := newRunState(o.runID)
	start := time.Now()
	o.logger.Info().
		Int("items", len(items)).
		Int("workers", o.workers).
		Msg("Run started")

	err := forEach(ctx, o.workers, items, func(ctx context.Context, item stage.Item) {
		state.add(run(ctx, item))
	})

	o.logger.Info().
		Int("completed", state.Completed()).
		Int("failed", state.Failed()).
		Int("colorable", len(state.Buckets.Colorable)).
		Int("notColorable", len(state.Buckets.NotColorable)).
		Int("ambiguous", len(state.Buckets.Ambiguous)).
		Dur("duration", time.Since(start)).
		Msg("Run finished")
	return state, err
}

// RunItem takes one item through caption, color check and its branch.
func (o *Orchestrator) RunItem(ctx context.Context, item stage.Item) ItemResult {
	res := ItemResult{Key: item.Key}
	defer func() { o.finish(ctx, &res) }()

	for _, s := range []ledger.Stage{ledger.StageCaption, ledger.StageColorCheck} {
		if !o.step(ctx, item, s, &res) {
			return res
		}
	}

	verdict, err := o.ledger.Read(ctx, item.Key, ledger.StageColorCheck)
	if err != nil {
		res.Err = fmt.Errorf("read color check verdict: %w", err)
		return res
	}
	res.Route = route.Classify(verdict)
	res.Routed = true
	if res.Route == route.Ambiguous {
		o.logger.Warn().
			Str("item", item.Key).
			Str("verdict", verdict).
			Msg("Ambiguous color check verdict, using noncolor branch")
	}

	for _, s := range BranchFor(res.Route) {
		if !o.step(ctx, item, s, &res) {
			return res
		}
	}
	return res
}

// RunItemBypass takes one item through caption and the branch of r without
// a color check.
func (o *Orchestrator) RunItemBypass(ctx context.Context, item stage.Item, r route.Route) ItemResult {
	res := ItemResult{Key: item.Key, Route: r, Routed: true}
	defer func() { o.finish(ctx, &res) }()

	stages := append([]ledger.Stage{ledger.StageCaption}, BranchFor(r)...)
	for _, s := range stages {
		if !o.step(ctx, item, s, &res) {
			return res
		}
	}
	return res
}

// step runs one transition and records it. It reports whether the item may
// continue.
func (o *Orchestrator) step(ctx context.Context, item stage.Item, s ledger.Stage, res *ItemResult) bool {
	outcome, err := o.RunStage(ctx, item, s)
	res.Stages = append(res.Stages, StageResult{Stage: s, Outcome: outcome})
	if err != nil {
		res.Err = err
		return false
	}
	return true
}

// RunStage brings one stage of item to completion: it returns
// OutcomeCached when the artifact exists, otherwise calls the stage client
// under the retry policy and writes the artifact.
func (o *Orchestrator) RunStage(ctx context.Context, item stage.Item, s ledger.Stage) (Outcome, error) {
	done, err := o.ledger.Has(ctx, item.Key, s)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check %s artifact: %w", s, err)
	}
	if done {
		o.logger.Debug().Str("item", item.Key).Str("stage", string(s)).Msg("Stage already complete")
		return OutcomeCached, nil
	}

	client, ok := o.clients[s]
	if !ok {
		return OutcomeFailed, retry.Permanent(fmt.Errorf("no client configured for stage %s", s))
	}

	nothing := false
	text, err := retry.Call(ctx, o.policy, item.Key, string(s), func(ctx context.Context) (string, error) {
		text, err := client.Complete(ctx, item)
		if errors.Is(err, stage.ErrNothingToRegenerate) {
			nothing = true
			return "", nil
		}
		return text, err
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if nothing {
		o.logger.Info().Str("item", item.Key).Str("stage", string(s)).Msg("All statements verified, nothing to regenerate")
		return OutcomeNothingToDo, nil
	}
	if err := o.ledger.Write(ctx, item.Key, s, text); err != nil {
		return OutcomeFailed, fmt.Errorf("write %s artifact: %w", s, err)
	}
	o.logger.Info().Str("item", item.Key).Str("stage", string(s)).Msg("Stage complete")
	return OutcomeProduced, nil
}

// finish logs the item outcome, emits metrics and forwards it to the sink.
func (o *Orchestrator) finish(ctx context.Context, res *ItemResult) {
	rec := metrics.New(metrics.Namespace)
	if res.Routed {
		rec.Dimension("Route", res.Route.String())
	}
	if res.Err != nil {
		o.logger.Error().Err(res.Err).Str("item", res.Key).Msg("Item failed")
		rec.Count("ItemsFailed")
	} else {
		evt := o.logger.Info().Str("item", res.Key).Int("calls", res.Calls())
		if res.Routed {
			evt = evt.Str("route", res.Route.String())
		}
		evt.Msg("Item complete")
		rec.Count("ItemsCompleted")
	}
	rec.Flush()

	if o.sink != nil {
		if err := o.sink.RecordItem(context.WithoutCancel(ctx), o.runID, *res); err != nil {
			o.logger.Warn().Err(err).Str("item", res.Key).Msg("Failed to record item result")
		}
	}
}
