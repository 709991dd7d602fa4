package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
)

func TestWriteFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l := ledger.NewFileLedger(map[ledger.Stage]string{
		ledger.StageCaption:    filepath.Join(dir, "caption"),
		ledger.StageColorCheck: filepath.Join(dir, "color_check"),
	}, logging.Discard())
	for key, content := range map[string]string{"0001": "a road\n\n", "0002": "a bridge\n\n"} {
		if err := l.Write(ctx, key, ledger.StageCaption, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Write(ctx, "0001", ledger.StageColorCheck, "Yes"); err != nil {
		t.Fatal(err)
	}
	// An empty artifact left by a truncated response is listed but skipped.
	if err := os.WriteFile(filepath.Join(dir, "color_check", "0002.txt"), []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	infoDir := filepath.Join(dir, "info")
	if err := os.MkdirAll(infoDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(infoDir, "0001.txt"), []byte("car, red: [0.125, 0.175]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "dataset.zip")
	sum, err := WriteFile(ctx, out, Options{
		Source:   l,
		Stages:   []ledger.Stage{ledger.StageCaption, ledger.StageColorCheck},
		InfoDirs: map[string]string{"color_info": infoDir, "noncolor_info": ""},
		Level:    3,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if sum.Entries != 4 || sum.Skipped != 1 || sum.Info != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.PerStage[ledger.StageCaption] != 2 || sum.PerStage[ledger.StageColorCheck] != 1 {
		t.Errorf("per stage = %v", sum.PerStage)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fi, _ := f.Stat()
	zr, err := OpenReader(f, fi.Size())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	got := make(map[string]string)
	for _, zf := range zr.File {
		if zf.Method != MethodZstd {
			t.Errorf("%s method = %d, want zstd", zf.Name, zf.Method)
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open %s: %v", zf.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", zf.Name, err)
		}
		got[zf.Name] = string(data)
	}
	want := map[string]string{
		"caption/0001.txt":     "a road\n\n",
		"caption/0002.txt":     "a bridge\n\n",
		"color_check/0001.txt": "Yes",
		"color_info/0001.txt":  "car, red: [0.125, 0.175]\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".dataset.zip.tmp.*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left: %v", leftovers)
	}
}

func TestBundleRequiresSource(t *testing.T) {
	if _, err := Bundle(context.Background(), io.Discard, Options{}); err == nil {
		t.Error("expected error without source")
	}
}
