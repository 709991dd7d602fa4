package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/auth"
	"github.com/sunzc-sunny/RDAnnotator/internal/awsboot"
	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/faillog"
	"github.com/sunzc-sunny/RDAnnotator/internal/filehandler"
	"github.com/sunzc-sunny/RDAnnotator/internal/jobs"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/pipeline"
	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
	"github.com/sunzc-sunny/RDAnnotator/internal/store"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg     *config.Config
	runID   string
	start   time.Time
	clients *awsboot.Clients
	ledger  ledger.Ledger
	store   *store.DynamoStore
	failLog *faillog.FileLog
	logger  zerolog.Logger
}

// loadConfig reads the config file and environment, then applies the
// flags that were set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if changed("image-dir") {
		cfg.ImageDir = imageDirFlag
	}
	if changed("work-dir") {
		cfg.WorkDir = workDirFlag
	}
	if changed("prompt-dir") {
		cfg.PromptDir = promptDirFlag
	}
	if changed("workers") {
		cfg.Workers = workersFlag
	}
	if changed("backend") {
		cfg.Backend = backendFlag
	}
	if changed("model") {
		cfg.Model = modelFlag
	}
	cfg.ResolveAPIKey()
	return cfg, nil
}

// newApp loads and validates the configuration, then creates the ledger
// and, when configured, the AWS clients and run store.
func newApp(ctx context.Context, cmd *cobra.Command, needs config.Needs) (*app, error) {
	start := time.Now()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(needs); err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		runID:  jobs.NewRunID(start),
		start:  start,
		logger: logging.Component(cmd.Name()),
	}
	// The API key may live in SSM even when storage is local.
	if awsboot.NeedsAWS(cfg) || (needs.Model && cfg.APIKey == "") {
		a.clients, err = awsboot.InitAWS(ctx)
		if err != nil {
			if awsboot.NeedsAWS(cfg) {
				return nil, err
			}
			log.Debug().Err(err).Msg("AWS unavailable, skipping SSM key lookup")
		}
	}
	a.ledger, err = awsboot.NewLedger(cfg, a.clients, logging.Component("ledger"))
	if err != nil {
		return nil, err
	}
	a.store, err = awsboot.NewRunStore(cfg, a.clients, logging.Component("store"))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ssm returns the SSM client for key lookup, or nil.
func (a *app) ssm() auth.SSMAPI {
	if a.clients == nil || a.clients.SSM == nil {
		return nil
	}
	return a.clients.SSM
}

// initModel creates the configured model backend.
func (a *app) initModel(ctx context.Context) (*cli.Model, error) {
	return cli.InitModel(ctx, a.cfg, a.ssm(), a.runID, logging.Component("vlm"))
}

// openFailureLog opens the run's failure log and returns a recorder writing
// to it and to the run store when one is configured.
func (a *app) openFailureLog() (*faillog.Recorder, error) {
	fl, err := faillog.Open(a.cfg.LogDir, a.start)
	if err != nil {
		return nil, err
	}
	a.failLog = fl
	sinks := []faillog.Sink{fl}
	if a.store != nil {
		sinks = append(sinks, a.store)
	}
	return faillog.NewRecorder(logging.Component("faillog"), sinks...), nil
}

func (a *app) close() {
	if a.failLog != nil {
		if err := a.failLog.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close failure log")
		}
	}
}

// policy returns the configured retry policy.
func (a *app) policy(recorder *faillog.Recorder) retry.Policy {
	return retry.Policy{
		MaxAttempts: a.cfg.RetryMaxAttempts,
		Backoff:     a.cfg.RetryBackoff(),
		Recorder:    recorder,
		RunID:       a.runID,
	}
}

// sink returns the item sink, nil when no run store is configured.
func (a *app) sink() pipeline.ItemSink {
	if a.store == nil {
		return nil
	}
	return a.store
}

// infoDir returns the info directory read by a client in mode.
func (a *app) infoDir(s ledger.Stage, mode stage.AttrMode) string {
	if s == ledger.StageCaption {
		return ""
	}
	if mode == stage.AttrColor {
		return a.cfg.ColorInfoDir
	}
	return a.cfg.NoncolorInfoDir
}

// stageClient creates the client producing s.
func (a *app) stageClient(completer vlm.Completer, s ledger.Stage) (*stage.Client, error) {
	tmpl, mode, ok := stage.Lookup(s)
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", s)
	}
	n := 0
	if s == ledger.StageCaption {
		n = a.cfg.CaptionN
	}
	return stage.New(tmpl, mode, stage.Options{
		Completer:        completer,
		Ledger:           a.ledger,
		InfoDir:          a.infoDir(s, mode),
		ExemplarDir:      a.cfg.ExemplarDir(tmpl.Name),
		ExemplarImageDir: a.cfg.ImageSource(),
		N:                n,
		Logger:           logging.Component("stage"),
	})
}

// stageClients creates one client per stage.
func (a *app) stageClients(completer vlm.Completer, stages []ledger.Stage) ([]pipeline.StageClient, error) {
	out := make([]pipeline.StageClient, 0, len(stages))
	for _, s := range stages {
		c, err := a.stageClient(completer, s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// items lists the images to process, sorted by name.
func (a *app) items() ([]stage.Item, error) {
	dir, err := cli.ResolveDirectory(a.cfg.ImageDir)
	if err != nil {
		return nil, err
	}
	files, err := filehandler.ScanDirectoryWithOptions(dir, filehandler.ScanOptions{Limit: limitFlag})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no supported images in %s", dir)
	}
	items := make([]stage.Item, len(files))
	for i, f := range files {
		items[i] = stage.NewItem(f.Path)
	}
	return items, nil
}

// keys returns the item keys of items.
func keys(items []stage.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

// startupLog prepares the startup event with the fields every command shares.
func (a *app) startupLog(name string) *logging.StartupLogger {
	return awsboot.StartupLog(name, a.start).
		RunID(a.runID).
		Dir("images", a.cfg.ImageDir).
		Backend("ledger", awsboot.LedgerTarget(a.cfg)).
		Feature("runStore", a.store != nil)
}

// errOffline is returned by stage clients used only to build requests.
var errOffline = errors.New("model calls are disabled for this command")

// offlineCompleter lets batch commands construct stage clients without
// a live model.
type offlineCompleter struct{}

func (offlineCompleter) Complete(context.Context, vlm.Request) (*vlm.Response, error) {
	return nil, retry.Permanent(errOffline)
}
