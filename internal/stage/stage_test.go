package stage

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm/vlmtest"
)

type fixture struct {
	root    string
	images  string
	info    string
	prompts string
	item    Item
	ledger  *ledger.Memory
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 120, B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:    root,
		images:  filepath.Join(root, "images"),
		info:    filepath.Join(root, "info"),
		prompts: filepath.Join(root, "prompts"),
		ledger:  ledger.NewMemory(),
	}
	if err := os.MkdirAll(f.images, 0755); err != nil {
		t.Fatal(err)
	}
	writeJPEG(t, filepath.Join(f.images, "0001.jpg"), 1000, 800)
	writeJPEG(t, filepath.Join(f.images, "ex1.jpg"), 640, 480)
	writeFile(t, filepath.Join(f.info, "0001.txt"), "car, red: [0.125, 0.175]\nvan, white: [0.5, 0.5]\n")
	f.item = NewItem(filepath.Join(f.images, "0001.jpg"))
	return f
}

// exemplars writes one exemplar for tmpl and returns its directory.
func (f *fixture) exemplars(t *testing.T, tmpl Template) string {
	t.Helper()
	dir := filepath.Join(f.prompts, tmpl.Name)
	if tmpl.Query == QueryCaption {
		writeFile(t, filepath.Join(dir, "ex1.txt"), "A road with cars.")
	} else {
		writeFile(t, filepath.Join(dir, "ex1_info.txt"), "car, black: [0.2, 0.3]\n")
		writeFile(t, filepath.Join(dir, "ex1_ann.txt"), "Yes")
	}
	return dir
}

func (f *fixture) client(t *testing.T, tmpl Template, mode AttrMode, fake *vlmtest.Fake) *Client {
	t.Helper()
	c, err := New(tmpl, mode, Options{
		Completer:        fake,
		Ledger:           f.ledger,
		InfoDir:          f.info,
		ExemplarDir:      f.exemplars(t, tmpl),
		ExemplarImageDir: f.images,
		Pick:             func(int) int { return 0 },
		Logger:           logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New(%s) error = %v", tmpl.Stage, err)
	}
	return c
}

func TestLookupCoversEveryStage(t *testing.T) {
	for _, s := range ledger.AllStages {
		tmpl, _, ok := Lookup(s)
		if !ok {
			t.Errorf("Lookup(%s) not found", s)
			continue
		}
		if tmpl.Stage != s {
			t.Errorf("Lookup(%s).Stage = %s", s, tmpl.Stage)
		}
	}
	if _, _, ok := Lookup("bogus"); ok {
		t.Error("Lookup(bogus) should fail")
	}
}

func TestCaptionRequest(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Caption(), AttrCoords, vlmtest.Reply("x"))

	req, err := c.BuildRequest(context.Background(), f.item)
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if req.Query.Text != "Describe the image concisely." {
		t.Errorf("query text = %q", req.Query.Text)
	}
	if req.Query.Image == nil || req.Query.Image.Detail != vlm.DetailLow {
		t.Fatalf("query image = %+v, want low detail", req.Query.Image)
	}
	cfg, err := jpeg.DecodeConfig(strings.NewReader(string(req.Query.Image.Data)))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 512 || cfg.Height != 409 {
		t.Errorf("caption image = %dx%d, want 512x409", cfg.Width, cfg.Height)
	}
	if req.Params.N != 3 || *req.Params.Temperature != 0.7 {
		t.Errorf("params = %+v", req.Params)
	}
	if len(req.Exemplars) != 2 || req.Exemplars[1].Text != "A road with cars." {
		t.Errorf("exemplars = %+v", req.Exemplars)
	}
	if req.CacheKey != "caption" {
		t.Errorf("CacheKey = %q", req.CacheKey)
	}
}

func TestCaptionJoinsChoices(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Caption(), AttrCoords, vlmtest.Reply("A busy\nstreet.", "Cars park.", "A road."))
	got, err := c.Complete(context.Background(), f.item)
	if err != nil {
		t.Fatal(err)
	}
	want := "A busystreet.\n\nCars park.\n\nA road.\n\n"
	if got != want {
		t.Errorf("Complete() = %q, want %q", got, want)
	}
}

func TestColorCheckQueryIsObjectsOnly(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, ColorCheck(), AttrColor, vlmtest.Reply("Yes"))
	req, err := c.BuildRequest(context.Background(), f.item)
	if err != nil {
		t.Fatal(err)
	}
	if req.Query.Text != "car, red: [0.125, 0.175]\nvan, white: [0.5, 0.5]\n" {
		t.Errorf("query text = %q", req.Query.Text)
	}
	if req.Query.Image.Detail != vlm.DetailHigh {
		t.Errorf("detail = %s", req.Query.Image.Detail)
	}
	if req.Params.PresencePenalty != nil {
		t.Error("color check sets no presence penalty")
	}
}

func TestAnnotateQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.ledger.Write(ctx, "0001", ledger.StageCaption, "Cars on a road.\n\n"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mode AttrMode
		want string
	}{
		{AttrColor, "Captions:\nCars on a road.\n\n\nObjects:\ncar, red: [0.125, 0.175]\nvan, white: [0.5, 0.5]\n"},
		{AttrCoords, "Captions:\nCars on a road.\n\n\nObjects:\ncar: [0.125, 0.175]\nvan: [0.5, 0.5]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c := f.client(t, Annotate(tt.mode), tt.mode, vlmtest.Reply("ann"))
			req, err := c.BuildRequest(ctx, f.item)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, req.Query.Text); diff != "" {
				t.Errorf("query mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVerifyQueryIncludesAnnotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.ledger.Write(ctx, "0001", ledger.StageCaption, "cap")
	_ = f.ledger.Write(ctx, "0001", ledger.StageNoncolorAnnotate, "Two vehicles.")

	c := f.client(t, Verify(AttrCoords), AttrCoords, vlmtest.Reply("Yes"))
	req, err := c.BuildRequest(ctx, f.item)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(req.Query.Text, "\n\nDescriptions:\nTwo vehicles.") {
		t.Errorf("query text = %q", req.Query.Text)
	}
}

func TestMissingInputIsPermanent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fake := vlmtest.Reply("ann")
	c := f.client(t, Annotate(AttrColor), AttrColor, fake)

	_, err := c.Complete(ctx, f.item)
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("Complete() error = %v, want ErrMissingInput", err)
	}
	if retry.Classify(err) != retry.KindPermanent {
		t.Error("missing input should be permanent")
	}
	if fake.Calls() != 0 {
		t.Errorf("made %d calls with a missing caption", fake.Calls())
	}

	_ = f.ledger.Write(ctx, "0002", ledger.StageCaption, "cap")
	_, err = c.Complete(ctx, NewItem(filepath.Join(f.images, "0002.jpg")))
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("missing info file error = %v", err)
	}
}

func TestRegenerateShortCircuit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.ledger.Write(ctx, "0001", ledger.StageCaption, "cap")
	_ = f.ledger.Write(ctx, "0001", ledger.StageColorVerify, "Yes\n\nYes, it matches.")

	fake := vlmtest.Reply("revised")
	c := f.client(t, Regenerate(AttrColor), AttrColor, fake)
	_, err := c.Complete(ctx, f.item)
	if !errors.Is(err, ErrNothingToRegenerate) {
		t.Fatalf("Complete() error = %v, want ErrNothingToRegenerate", err)
	}
	if fake.Calls() != 0 {
		t.Errorf("external calls = %d, want 0", fake.Calls())
	}
}

func TestRegenerateReasonlessRejectionStillCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.ledger.Write(ctx, "0001", ledger.StageCaption, "cap\n")
	_ = f.ledger.Write(ctx, "0001", ledger.StageColorVerify,
		"The cars at [0.1, 0.2]\nYes\n\nA red bus at [0.5, 0.5].\nNo")

	fake := vlmtest.Reply("revised")
	c := f.client(t, Regenerate(AttrColor), AttrColor, fake)
	got, err := c.Complete(ctx, f.item)
	if err != nil || got != "revised" {
		t.Fatalf("Complete() = %q, %v; want a regenerate call", got, err)
	}
	if fake.Calls() != 1 {
		t.Errorf("external calls = %d, want 1", fake.Calls())
	}
	if q := fake.Requests()[0].Query.Text; strings.Contains(q, "Reason:") {
		t.Errorf("reasonless statement should not be rendered, query:\n%s", q)
	}
}

func TestRegenerateQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.ledger.Write(ctx, "0001", ledger.StageCaption, "cap\n")
	_ = f.ledger.Write(ctx, "0001", ledger.StageNoncolorVerify,
		"Yes\n\nThe cars at [0.1, 0.2]\nNo, the VAN is hidden.")

	fake := vlmtest.Reply("revised")
	c := f.client(t, Regenerate(AttrCoords), AttrCoords, fake)
	got, err := c.Complete(ctx, f.item)
	if err != nil || got != "revised" {
		t.Fatalf("Complete() = %q, %v", got, err)
	}
	want := "Captions:\ncap\n\nObjects:\ncar: [0.125, 0.175]\nvan: [0.5, 0.5]\n" +
		"\n\nDescription:\nThe cars at [0.1, 0.2]\n\n\nReason:\nThe VAN is hidden.\n"
	if diff := cmp.Diff(want, fake.Requests()[0].Query.Text); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyResponseIsTransient(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, ColorCheck(), AttrColor, vlmtest.Reply("  "))
	_, err := c.Complete(context.Background(), f.item)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v", err)
	}
	if retry.Classify(err) != retry.KindTransient {
		t.Error("empty response should be retried")
	}
}

func TestNewRequiresDirs(t *testing.T) {
	_, err := New(Annotate(AttrColor), AttrColor, Options{
		Completer:   vlmtest.Reply(),
		Ledger:      ledger.NewMemory(),
		ExemplarDir: t.TempDir(),
	})
	if err == nil {
		t.Error("expected error without info dir")
	}
	_, err = New(Caption(), AttrCoords, Options{
		Completer: vlmtest.Reply(),
		Ledger:    ledger.NewMemory(),
	})
	if err == nil {
		t.Error("expected error without exemplar dir")
	}
}
