package faillog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
)

func TestFileLogAppendsJSONLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	start := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	l, err := Open(dir, start)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if filepath.Base(l.Path()) != "error_20240305_140709.log" {
		t.Errorf("Path() = %q", l.Path())
	}

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		err := l.Record(ctx, Failure{
			Time:    start,
			Item:    "img1",
			Stage:   "color_check",
			Attempt: i,
			Final:   i == 2,
			Kind:    "transient",
			Message: "503 unavailable",
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1]["final"] != true || lines[1]["item"] != "img1" || lines[1]["message"] != "503 unavailable" {
		t.Errorf("unexpected final line: %v", lines[1])
	}

	if err := l.Record(ctx, Failure{}); err == nil {
		t.Error("Record() after Close should fail")
	}
}

func TestRecorderFansOutAndSurvivesSinkErrors(t *testing.T) {
	var got []Failure
	ok := SinkFunc(func(_ context.Context, f Failure) error {
		got = append(got, f)
		return nil
	})
	broken := SinkFunc(func(context.Context, Failure) error { return errors.New("table missing") })

	r := NewRecorder(logging.Discard(), broken, nil, ok)
	r.Record(context.Background(), Failure{Item: "img9", Stage: "caption", Attempt: 1})

	if len(got) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(got))
	}
	if got[0].Time.IsZero() {
		t.Error("Recorder should stamp a time")
	}
}
