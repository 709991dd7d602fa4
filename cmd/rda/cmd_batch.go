package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/batch"
	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

var (
	batchStageFlag string
	batchOutFlag   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit and collect one stage as asynchronous batch jobs",
	Long: `Batch runs a single stage through the Gemini batch API. Requests are
built exactly as in an online run and submitted 60 per job; a manifest
under <work_dir>/batches records each job so fetch can collect results
later. Items whose artifact exists, or that a pending job already holds,
are skipped.`,
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Build and submit batch jobs for a stage",
	Args:  cobra.NoArgs,
	RunE:  runBatchSubmit,
}

var batchFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Poll submitted jobs and write finished results to the ledger",
	Args:  cobra.NoArgs,
	RunE:  runBatchFetch,
}

var batchExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stage's pending requests as OpenAI batch JSONL",
	Args:  cobra.NoArgs,
	RunE:  runBatchExport,
}

func init() {
	batchCmd.PersistentFlags().StringVarP(&batchStageFlag, "stage", "s", string(ledger.StageCaption), "Stage to process")
	batchExportCmd.Flags().StringVarP(&batchOutFlag, "out", "o", "batch.jsonl", "JSONL output file")
	batchCmd.AddCommand(batchSubmitCmd, batchFetchCmd, batchExportCmd)
}

// batchStage parses --stage.
func batchStage() (ledger.Stage, error) {
	s := ledger.Stage(batchStageFlag)
	if _, _, ok := stage.Lookup(s); !ok {
		return "", fmt.Errorf("unknown stage %q", batchStageFlag)
	}
	return s, nil
}

// stageNeeds returns the configuration a stage client requires.
func stageNeeds(s ledger.Stage, model bool) config.Needs {
	needs := config.Needs{Images: true, Prompts: true, Model: model}
	if s == ledger.StageCaption {
		return needs
	}
	if _, mode, _ := stage.Lookup(s); mode == stage.AttrColor {
		needs.ColorInfo = true
	} else {
		needs.NoncolorInfo = true
	}
	return needs
}

// batchSetup creates the app, a Gemini-backed batcher and the stage client.
func batchSetup(cmd *cobra.Command) (*app, *batch.Batcher, *stage.Client, *cli.Model, error) {
	s, err := batchStage()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, stageNeeds(s, true))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	model, err := a.initModel(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if model.Gemini == nil {
		return nil, nil, nil, nil, cli.ErrNoGemini
	}
	client, err := a.stageClient(model.Completer, s)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	b, err := batch.New(batch.Options{
		Backend: batch.NewGeminiBackend(model.Gemini, model.Name),
		Ledger:  a.ledger,
		Dir:     a.cfg.BatchDir(),
		Logger:  logging.Component("batch"),
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	a.startupLog("rda batch "+cmd.Name()).
		Dir("manifests", a.cfg.BatchDir()).
		Backend("model", model.Backend+"/"+model.Name).
		Config("stage", string(s)).
		Log()
	return a, b, client, model, nil
}

func runBatchSubmit(cmd *cobra.Command, _ []string) error {
	a, b, client, _, err := batchSetup(cmd)
	if err != nil {
		return err
	}
	items, err := a.items()
	if err != nil {
		return err
	}
	sum, err := b.Submit(cmd.Context(), client, items)
	if sum != nil {
		cli.PrintReport(cmd.OutOrStdout(), "Batch submit "+string(client.Stage()), []cli.Row{
			{Label: "Items", Value: len(items)},
			{Label: "Requests", Value: sum.Built},
			{Label: "Already done", Value: sum.Skipped},
			{Label: "In flight", Value: sum.InFlight},
			{Label: "Nothing to do", Value: sum.Nothing},
			{Label: "Unbuildable", Value: sum.Failed},
			{Label: "Jobs", Value: len(sum.Jobs)},
		})
	}
	return err
}

func runBatchFetch(cmd *cobra.Command, _ []string) error {
	_, b, client, _, err := batchSetup(cmd)
	if err != nil {
		return err
	}
	sum, err := b.Fetch(cmd.Context(), client)
	if sum != nil {
		cli.PrintReport(cmd.OutOrStdout(), "Batch fetch "+string(client.Stage()), []cli.Row{
			{Label: "Artifacts written", Value: sum.Written},
			{Label: "Items failed", Value: sum.ItemsFailed},
			{Label: "Jobs finished", Value: sum.JobsDone},
			{Label: "Jobs failed", Value: sum.JobsFailed},
			{Label: "Jobs pending", Value: sum.Pending},
		})
	}
	return err
}

func runBatchExport(cmd *cobra.Command, _ []string) error {
	s, err := batchStage()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, stageNeeds(s, false))
	if err != nil {
		return err
	}
	client, err := a.stageClient(offlineCompleter{}, s)
	if err != nil {
		return err
	}
	b, err := batch.New(batch.Options{Ledger: a.ledger, Dir: a.cfg.BatchDir(), Logger: logging.Component("batch")})
	if err != nil {
		return err
	}
	items, err := a.items()
	if err != nil {
		return err
	}
	reqs, sum, err := b.Build(ctx, client, items)
	if err != nil {
		return err
	}

	f, err := os.Create(batchOutFlag)
	if err != nil {
		return fmt.Errorf("create %s: %w", batchOutFlag, err)
	}
	w := bufio.NewWriter(f)
	model := a.cfg.Model
	if model == "" {
		model = vlm.GetModelName(vlm.BackendOpenAI)
	}
	if err := batch.WriteJSONL(w, model, reqs); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	cli.PrintReport(cmd.OutOrStdout(), "Batch export "+string(s), []cli.Row{
		{Label: "Requests", Value: sum.Built},
		{Label: "Already done", Value: sum.Skipped},
		{Label: "Nothing to do", Value: sum.Nothing},
		{Label: "Unbuildable", Value: sum.Failed},
		{Label: "Output", Value: batchOutFlag},
	})
	return nil
}
