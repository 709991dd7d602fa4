package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/pipeline"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
	"github.com/sunzc-sunny/RDAnnotator/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline, routing each image by its color check",
	Long: `Run takes every image through caption and color check, routes it by
the verdict and finishes the colorable or noncolor branch. Ambiguous
verdicts are logged and use the noncolor branch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd, false)
	},
}

var runNoncolorCmd = &cobra.Command{
	Use:   "run-noncolor",
	Short: "Run caption and the noncolor branch for every image, skipping the color check",
	Long: `Run-noncolor is for images already known to be unsuitable for color
description, such as night frames. No color check call is made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd, true)
	},
}

func runPipeline(cmd *cobra.Command, bypass bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, config.Needs{
		Images:       true,
		ColorInfo:    !bypass,
		NoncolorInfo: true,
		Prompts:      true,
		Model:        true,
	})
	if err != nil {
		return err
	}
	defer a.close()

	orch, model, err := a.orchestrator(ctx, bypass)
	if err != nil {
		return err
	}
	defer model.Close(context.WithoutCancel(ctx))

	items, err := a.items()
	if err != nil {
		return err
	}

	mode := "full"
	if bypass {
		mode = "noncolor"
	}
	a.startupLog("rda "+cmd.Name()).
		Dir("work", a.cfg.WorkDir).
		Dir("logs", a.cfg.LogDir).
		Backend("model", model.Backend+"/"+model.Name).
		Feature("exemplarCache", model.Cache != nil).
		Config("mode", mode).
		Config("items", fmt.Sprint(len(items))).
		Config("workers", fmt.Sprint(a.cfg.Workers)).
		Config("failureLog", a.failLog.Path()).
		Log()

	if a.store != nil {
		if err := a.store.StartRun(ctx, &store.Run{
			RunID:     a.runID,
			Mode:      mode,
			Status:    store.RunStatusRunning,
			Items:     len(items),
			Workers:   a.cfg.Workers,
			Model:     model.Name,
			StartedAt: a.start.Unix(),
		}); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record run start")
		}
	}

	var state *pipeline.RunState
	if bypass {
		state, err = orch.RunBypass(ctx, items, route.NotColorable)
	} else {
		state, err = orch.Run(ctx, items)
	}
	if state == nil {
		return err
	}

	if a.store != nil {
		status := store.RunStatusFinished
		if err != nil {
			status = store.RunStatusFailed
		}
		if ferr := a.store.FinishRun(context.WithoutCancel(ctx), a.runID, store.SummaryOf(state), status); ferr != nil {
			a.logger.Warn().Err(ferr).Msg("Failed to record run finish")
		}
	}
	printRunSummary(cmd.OutOrStdout(), a, len(items), state)
	return err
}

// orchestrator initializes the model and the stage clients a run needs.
func (a *app) orchestrator(ctx context.Context, bypass bool) (*pipeline.Orchestrator, *cli.Model, error) {
	recorder, err := a.openFailureLog()
	if err != nil {
		return nil, nil, err
	}
	model, err := a.initModel(ctx)
	if err != nil {
		return nil, nil, err
	}
	stages := ledger.AllStages
	if bypass {
		stages = append([]ledger.Stage{ledger.StageCaption}, pipeline.NoncolorBranch...)
	}
	clients, err := a.stageClients(model.Completer, stages)
	if err != nil {
		model.Close(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	orch, err := pipeline.New(pipeline.Options{
		Ledger:  a.ledger,
		Clients: clients,
		Policy:  a.policy(recorder),
		Workers: a.cfg.Workers,
		RunID:   a.runID,
		Sink:    a.sink(),
		Logger:  logging.Component("pipeline"),
	})
	if err != nil {
		model.Close(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	return orch, model, nil
}

func printRunSummary(w io.Writer, a *app, items int, state *pipeline.RunState) {
	cli.PrintReport(w, "Annotation run "+a.runID, []cli.Row{
		{Label: "Items", Value: items},
		{Label: "Completed", Value: state.Completed()},
		{Label: "Failed", Value: state.Failed()},
		{Label: "Colorable", Value: len(state.Buckets.Colorable)},
		{Label: "Not colorable", Value: len(state.Buckets.NotColorable)},
		{Label: "Ambiguous", Value: len(state.Buckets.Ambiguous)},
		{Label: "Duration", Value: cli.FormatDurationShort(time.Since(a.start))},
		{Label: "Failure log", Value: a.failLog.Path()},
	})
}
