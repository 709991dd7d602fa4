package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
	"github.com/sunzc-sunny/RDAnnotator/internal/store"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

func TestLoadConfigAppliesChangedFlags(t *testing.T) {
	t.Setenv("RDA_WORK_DIR", "/env/work")
	t.Setenv("RDA_WORKERS", "4")
	t.Setenv("RDA_MODEL", "")
	configFlag = ""

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&workDirFlag, "work-dir", "", "")
	cmd.Flags().IntVar(&workersFlag, "workers", 0, "")
	cmd.Flags().StringVar(&modelFlag, "model", "", "")
	if err := cmd.Flags().Set("workers", "8"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.WorkDir != "/env/work" {
		t.Errorf("work dir = %q, want env value", cfg.WorkDir)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want flag value 8", cfg.Workers)
	}
	if cfg.Model != "" {
		t.Errorf("model = %q, unset flag should not override", cfg.Model)
	}
}

func TestLoadConfigKeyFollowsBackendFlag(t *testing.T) {
	t.Setenv("RDA_BACKEND", "")
	t.Setenv("RDA_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gemini-secret")
	t.Setenv("OPENAI_API_KEY", "openai-secret")
	configFlag = ""

	tests := []struct {
		name    string
		backend string
		wantKey string
	}{
		{"default gemini", "", "gemini-secret"},
		{"openai flag", config.BackendOpenAI, "openai-secret"},
		{"gemini flag", config.BackendGemini, "gemini-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().StringVar(&backendFlag, "backend", "", "")
			if tt.backend != "" {
				if err := cmd.Flags().Set("backend", tt.backend); err != nil {
					t.Fatal(err)
				}
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if cfg.APIKey != tt.wantKey {
				t.Errorf("backend=%s APIKey = %q, want %q", cfg.Backend, cfg.APIKey, tt.wantKey)
			}
		})
	}

	t.Setenv("RDA_API_KEY", "shared")
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&backendFlag, "backend", "", "")
	if err := cmd.Flags().Set("backend", config.BackendOpenAI); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.APIKey != "shared" {
		t.Errorf("APIKey = %q, want RDA_API_KEY to win", cfg.APIKey)
	}
}

func TestStageNeeds(t *testing.T) {
	tests := []struct {
		stage ledger.Stage
		want  config.Needs
	}{
		{ledger.StageCaption, config.Needs{Images: true, Prompts: true, Model: true}},
		{ledger.StageColorVerify, config.Needs{Images: true, Prompts: true, Model: true, ColorInfo: true}},
		{ledger.StageNoncolorRegenerate, config.Needs{Images: true, Prompts: true, Model: true, NoncolorInfo: true}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, stageNeeds(tt.stage, true)); diff != "" {
			t.Errorf("stageNeeds(%s) (-want +got):\n%s", tt.stage, diff)
		}
	}
}

func TestBatchStage(t *testing.T) {
	batchStageFlag = "color_check"
	if s, err := batchStage(); err != nil || s != ledger.StageColorCheck {
		t.Errorf("batchStage = %q, %v", s, err)
	}
	batchStageFlag = "polish"
	if _, err := batchStage(); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestWriteBuckets(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lists")
	b := &route.Buckets{}
	b.Add("0001", route.Colorable)
	b.Add("0002", route.NotColorable)
	b.Add("0003", route.Colorable)

	if err := writeBuckets(dir, b); err != nil {
		t.Fatalf("writeBuckets: %v", err)
	}
	want := map[string]string{
		"colorable.txt":     "0001\n0003\n",
		"not_colorable.txt": "0002\n",
		"ambiguous.txt":     "",
	}
	for name, content := range want {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != content {
			t.Errorf("%s = %q, want %q", name, data, content)
		}
	}
}

func TestOfflineCompleter(t *testing.T) {
	_, err := offlineCompleter{}.Complete(context.Background(), vlm.Request{})
	if !errors.Is(err, errOffline) {
		t.Errorf("err = %v, want errOffline", err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"batch", "colorinfo", "export", "filter", "route", "run", "run-noncolor", "serve-mcp", "status"}
	var got []string
	for _, c := range rootCmd.Commands() {
		switch c.Name() {
		case "help", "completion":
			continue
		}
		got = append(got, c.Name())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestRunRows(t *testing.T) {
	run := &store.Run{
		Mode: "full", Status: store.RunStatusFinished, Items: 3,
		StartedAt: 1000, FinishedAt: 1090,
		RunSummary: store.RunSummary{Completed: 2, Failed: 1, Colorable: 1, NotColorable: 1},
	}
	failures := []store.FailureRecord{
		{Item: "a", Stage: "verify", Attempt: 1},
		{Item: "a", Stage: "verify", Attempt: 2, Final: true},
		{Item: "b", Stage: "annotate", Attempt: 2, Final: true},
	}
	got := make(map[string]any)
	for _, r := range runRows(run, failures) {
		got[r.Label] = r.Value
	}
	want := map[string]any{
		"Completed":            2,
		"Failed":               1,
		"Duration":             "1:30",
		"  failed at verify":   1,
		"  failed at annotate": 1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("row %q = %v, want %v", k, got[k], v)
		}
	}
}

func TestPrintItems(t *testing.T) {
	var sb strings.Builder
	printItems(&sb, []store.ItemRecord{
		{Key: "0000001", Status: store.ItemStatusCompleted, Route: "colorable", Calls: 5},
		{Key: "0000002", Status: store.ItemStatusFailed, Calls: 2, Error: "verify: boom"},
	})
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "calls=5") || !strings.HasSuffix(lines[1], "verify: boom") {
		t.Errorf("unexpected output:\n%s", sb.String())
	}
}

func TestRunStatusRejectsBadID(t *testing.T) {
	err := runStatus(statusCmd, []string{"not-a-run"})
	if err == nil || !strings.Contains(err.Error(), "not a run ID") {
		t.Errorf("runStatus() error = %v", err)
	}
}
