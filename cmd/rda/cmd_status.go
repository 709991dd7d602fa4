package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/jobs"
	"github.com/sunzc-sunny/RDAnnotator/internal/store"
)

var statusItemsFlag bool

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the recorded summary of a run",
	Long: `Status reads a run's records from the run table: the run summary, its
final-failure count per stage, and with --items one line per item.
Requires run_table.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusItemsFlag, "items", false, "List every item record")
}

func runStatus(cmd *cobra.Command, args []string) error {
	runID := args[0]
	if !jobs.IsRunID(runID) {
		return fmt.Errorf("%q is not a run ID (want %s<yyyymmddThhmmss>-<hex>)", runID, jobs.RunIDPrefix)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, config.Needs{})
	if err != nil {
		return err
	}
	if a.store == nil {
		return errors.New("status requires run_table")
	}

	run, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	failures, err := a.store.ListFailures(ctx, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cli.PrintReport(out, "Run "+runID, runRows(run, failures))
	if statusItemsFlag {
		items, err := a.store.ListItems(ctx, runID)
		if err != nil {
			return err
		}
		printItems(out, items)
	}
	return nil
}

// runRows renders a run record and its final failures per stage.
func runRows(run *store.Run, failures []store.FailureRecord) []cli.Row {
	rows := []cli.Row{
		{Label: "Mode", Value: run.Mode},
		{Label: "Status", Value: run.Status},
		{Label: "Model", Value: run.Model},
		{Label: "Items", Value: run.Items},
		{Label: "Completed", Value: run.Completed},
		{Label: "Failed", Value: run.Failed},
		{Label: "Colorable", Value: run.Colorable},
		{Label: "Not colorable", Value: run.NotColorable},
		{Label: "Ambiguous", Value: run.Ambiguous},
	}
	if run.FinishedAt > 0 {
		d := time.Unix(run.FinishedAt, 0).Sub(time.Unix(run.StartedAt, 0))
		rows = append(rows, cli.Row{Label: "Duration", Value: cli.FormatDurationShort(d)})
	}

	perStage := make(map[string]int)
	for _, f := range failures {
		if f.Final {
			perStage[f.Stage]++
		}
	}
	stages := make([]string, 0, len(perStage))
	for s := range perStage {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		rows = append(rows, cli.Row{Label: "  failed at " + s, Value: perStage[s]})
	}
	return rows
}

func printItems(w io.Writer, items []store.ItemRecord) {
	for _, it := range items {
		line := fmt.Sprintf("%-24s %-10s %-14s calls=%d", it.Key, it.Status, it.Route, it.Calls)
		if it.Error != "" {
			line += "  " + it.Error
		}
		fmt.Fprintln(w, line)
	}
}
