// Command rda drives the VisDrone region-description pipeline: dataset
// preparation, the online annotation run, batch mode, export and the MCP
// tool server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
)

// Build-time version identity, injected via -ldflags:
//
//	go build -ldflags="-X main.commitHash=$(git rev-parse --short HEAD) -X main.buildTime=$(date -u +%Y%m%dT%H%M%SZ)"
var (
	commitHash = "dev"
	buildTime  = "unknown"
)

// Global flags. Flags override the config file and RDA_* variables only
// when set explicitly.
var (
	configFlag    string
	imageDirFlag  string
	workDirFlag   string
	promptDirFlag string
	workersFlag   int
	backendFlag   string
	modelFlag     string
	limitFlag     int
)

var rootCmd = &cobra.Command{
	Use:   "rda",
	Short: "Region descriptions for aerial imagery with vision-language models",
	Long: `rda annotates VisDrone aerial images with grounded region descriptions.

Each image goes through caption, color check, annotate, verify and
regenerate stages. Every stage writes one text artifact per image, and a
stage whose artifact already exists is skipped, so an interrupted run
resumes where it stopped.

Examples:
  rda colorinfo --config rda.yaml
  rda filter --config rda.yaml --out lists/
  rda run --config rda.yaml --workers 8
  rda run-noncolor --image-dir ./night --work-dir ./out
  rda batch submit --stage caption
  rda export --out dataset.zip --upload`,
	Version:       commitHash + " (" + buildTime + ")",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "YAML config file")
	pf.StringVar(&imageDirFlag, "image-dir", "", "Directory of images to process")
	pf.StringVar(&workDirFlag, "work-dir", "", "Root of the per-stage artifact directories")
	pf.StringVar(&promptDirFlag, "prompt-dir", "", "Root of the per-stage exemplar directories")
	pf.IntVarP(&workersFlag, "workers", "w", 0, "Items processed concurrently")
	pf.StringVar(&backendFlag, "backend", "", "Model backend: gemini or openai")
	pf.StringVarP(&modelFlag, "model", "m", "", "Model ID (e.g. gemini-2.5-flash, gpt-4o)")
	pf.IntVar(&limitFlag, "limit", 0, "Maximum images to process (0 = unlimited)")

	rootCmd.AddCommand(
		runCmd,
		runNoncolorCmd,
		routeCmd,
		colorinfoCmd,
		filterCmd,
		batchCmd,
		exportCmd,
		serveMCPCmd,
		statusCmd,
	)
}

func main() {
	logging.Init()
	metrics.ConfigureFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
