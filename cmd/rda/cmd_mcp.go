package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/mcpserver"
	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
)

var serveMCPAnnotateFlag bool

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Serve the pipeline as MCP tools over stdin/stdout",
	Long: `Serve-mcp starts an MCP server over stdin/stdout exposing
classify_verdict, ledger_status and object_info. With --annotate it also
initializes the model and exposes annotate_item, which runs one image
through the same orchestrator as "rda run".

Example client entry:
  {"command": "rda", "args": ["serve-mcp", "--config", "rda.yaml", "--annotate"]}`,
	Args: cobra.NoArgs,
	RunE: runServeMCP,
}

func init() {
	serveMCPCmd.Flags().BoolVar(&serveMCPAnnotateFlag, "annotate", false, "Enable annotate_item (requires model and prompt configuration)")
}

func runServeMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	// stdout carries the protocol.
	if metrics.Enabled() {
		metrics.Configure(os.Stderr)
	}

	needs := config.Needs{}
	if serveMCPAnnotateFlag {
		needs = config.Needs{Images: true, ColorInfo: true, NoncolorInfo: true, Prompts: true, Model: true}
	}
	a, err := newApp(ctx, cmd, needs)
	if err != nil {
		return err
	}
	defer a.close()

	opts := mcpserver.Options{
		Name:    "rdannotator",
		Version: commitHash,
		Ledger:  a.ledger,
		Logger:  logging.Component("mcp"),
	}
	if serveMCPAnnotateFlag {
		orch, model, err := a.orchestrator(ctx, false)
		if err != nil {
			return err
		}
		defer model.Close(context.WithoutCancel(ctx))
		opts.Annotator = orch
		opts.ImageDir = a.cfg.ImageDir
	}
	srv, err := mcpserver.New(opts)
	if err != nil {
		return err
	}
	a.startupLog("rda serve-mcp").
		Feature("annotate", serveMCPAnnotateFlag).
		Log()
	return srv.Run(ctx)
}
