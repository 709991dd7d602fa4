package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
)

// fakeClient answers one stage. calls counts external calls; a respond
// function returning stage.ErrNothingToRegenerate does not count.
type fakeClient struct {
	stage   ledger.Stage
	respond func(item stage.Item) (string, error)
	calls   atomic.Int32
}

func (f *fakeClient) Stage() ledger.Stage { return f.stage }

func (f *fakeClient) Complete(_ context.Context, item stage.Item) (string, error) {
	text, err := f.respond(item)
	if !errors.Is(err, stage.ErrNothingToRegenerate) {
		f.calls.Add(1)
	}
	return text, err
}

func reply(s ledger.Stage, text string) *fakeClient {
	return &fakeClient{stage: s, respond: func(stage.Item) (string, error) { return text, nil }}
}

type harness struct {
	ledger  *ledger.Memory
	clients map[ledger.Stage]*fakeClient
	sleeps  []time.Duration
	mu      sync.Mutex
}

// newHarness wires fake clients for every stage. Color check verdicts are
// looked up by item key; verify rejects one statement for keys starting
// with "bad".
func newHarness(verdicts map[string]string) *harness {
	h := &harness{ledger: ledger.NewMemory(), clients: map[ledger.Stage]*fakeClient{}}
	for _, s := range ledger.AllStages {
		h.clients[s] = reply(s, string(s)+" output")
	}
	h.clients[ledger.StageColorCheck].respond = func(item stage.Item) (string, error) {
		return verdicts[item.Key], nil
	}
	verify := func(item stage.Item) (string, error) {
		if strings.HasPrefix(item.Key, "bad") {
			return "Yes\n\nCars\nNo, wrong color.", nil
		}
		return "Yes\n\nYes", nil
	}
	h.clients[ledger.StageColorVerify].respond = verify
	h.clients[ledger.StageNoncolorVerify].respond = verify
	for _, s := range []ledger.Stage{ledger.StageColorRegenerate, ledger.StageNoncolorRegenerate} {
		src := ledger.StageColorVerify
		if s == ledger.StageNoncolorRegenerate {
			src = ledger.StageNoncolorVerify
		}
		h.clients[s].respond = func(item stage.Item) (string, error) {
			check, err := h.ledger.Read(context.Background(), item.Key, src)
			if err != nil {
				return "", err
			}
			if len(stage.ParseFailures(check)) == 0 {
				return "", stage.ErrNothingToRegenerate
			}
			return "revised", nil
		}
	}
	return h
}

func (h *harness) orchestrator(t *testing.T, workers int, sink ItemSink) *Orchestrator {
	t.Helper()
	var clients []StageClient
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	o, err := New(Options{
		Ledger:  h.ledger,
		Clients: clients,
		Policy: retry.Policy{
			MaxAttempts: 2,
			Backoff:     time.Minute,
			Sleep: func(_ context.Context, d time.Duration) error {
				h.mu.Lock()
				h.sleeps = append(h.sleeps, d)
				h.mu.Unlock()
				return nil
			},
		},
		Workers: workers,
		RunID:   "run-test",
		Sink:    sink,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func (h *harness) totalCalls() int {
	n := 0
	for _, c := range h.clients {
		n += int(c.calls.Load())
	}
	return n
}

func items(keys ...string) []stage.Item {
	out := make([]stage.Item, len(keys))
	for i, k := range keys {
		out[i] = stage.Item{Key: k, ImagePath: "/images/" + k + ".jpg"}
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]string{"a": "Yes", "bad-b": "No", "c": "Yes"})
	o := h.orchestrator(t, 1, nil)

	state, err := o.Run(ctx, items("a", "bad-b", "c"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state.Failed() != 0 || state.Completed() != 3 {
		t.Fatalf("completed=%d failed=%d", state.Completed(), state.Failed())
	}
	first := h.totalCalls()
	writes := h.ledger.Writes()
	if first == 0 {
		t.Fatal("first run made no calls")
	}

	if _, err := o.Run(ctx, items("a", "bad-b", "c")); err != nil {
		t.Fatal(err)
	}
	if got := h.totalCalls(); got != first {
		t.Errorf("second run made %d external calls, want 0", got-first)
	}
	if h.ledger.Writes() != writes {
		t.Errorf("second run wrote %d artifacts", h.ledger.Writes()-writes)
	}
}

func TestRunRoutesByVerdict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]string{
		"yes":   "Yes, it matches",
		"no":    "No, wrong color",
		"maybe": "Unclear",
		"both":  "Yes... but also No",
	})
	o := h.orchestrator(t, 2, nil)

	state, err := o.Run(ctx, items("yes", "no", "maybe", "both"))
	if err != nil {
		t.Fatal(err)
	}
	b := state.Buckets
	for _, l := range [][]string{b.Colorable, b.NotColorable, b.Ambiguous} {
		slices.Sort(l)
	}
	want := route.Buckets{
		Colorable:    []string{"both", "yes"},
		NotColorable: []string{"no"},
		Ambiguous:    []string{"maybe"},
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}

	for key, colored := range map[string]bool{"yes": true, "both": true, "no": false, "maybe": false} {
		has, _ := h.ledger.Has(ctx, key, ledger.StageColorAnnotate)
		if has != colored {
			t.Errorf("%s: color annotation present = %v, want %v", key, has, colored)
		}
		has, _ = h.ledger.Has(ctx, key, ledger.StageNoncolorAnnotate)
		if has == colored {
			t.Errorf("%s: noncolor annotation present = %v, want %v", key, has, !colored)
		}
	}
}

func TestRegenerateShortCircuit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]string{"good": "Yes", "bad": "Yes"})
	o := h.orchestrator(t, 1, nil)

	state, err := o.Run(ctx, items("good", "bad"))
	if err != nil {
		t.Fatal(err)
	}
	if got := h.clients[ledger.StageColorRegenerate].calls.Load(); got != 1 {
		t.Errorf("regenerate external calls = %d, want 1 (only the rejected item)", got)
	}
	if has, _ := h.ledger.Has(ctx, "good", ledger.StageColorRegenerate); has {
		t.Error("nothing-to-regenerate must not write an artifact")
	}
	for _, r := range state.Results() {
		last := r.Stages[len(r.Stages)-1]
		want := OutcomeProduced
		if r.Key == "good" {
			want = OutcomeNothingToDo
		}
		if last.Outcome != want {
			t.Errorf("%s regenerate outcome = %s, want %s", r.Key, last.Outcome, want)
		}
	}
}

func TestRetryBound(t *testing.T) {
	h := newHarness(map[string]string{"x": "Yes"})
	caption := h.clients[ledger.StageCaption]
	caption.respond = func(stage.Item) (string, error) { return "", errors.New("connection reset") }
	o := h.orchestrator(t, 1, nil)

	res := o.RunItem(context.Background(), items("x")[0])
	if res.Err == nil {
		t.Fatal("expected item error")
	}
	if got := caption.calls.Load(); got != 2 {
		t.Errorf("caption invoked %d times, want 2", got)
	}
	if diff := cmp.Diff([]time.Duration{time.Minute}, h.sleeps); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if got := h.clients[ledger.StageColorCheck].calls.Load(); got != 0 {
		t.Errorf("color check ran %d times after caption failed", got)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	h := newHarness(map[string]string{"x": "Yes"})
	caption := h.clients[ledger.StageCaption]
	caption.respond = func(stage.Item) (string, error) {
		return "", retry.Permanent(stage.ErrMissingInput)
	}
	o := h.orchestrator(t, 1, nil)

	res := o.RunItem(context.Background(), items("x")[0])
	if !errors.Is(res.Err, stage.ErrMissingInput) {
		t.Fatalf("error = %v", res.Err)
	}
	if caption.calls.Load() != 1 || len(h.sleeps) != 0 {
		t.Errorf("calls=%d sleeps=%d, want 1 and 0", caption.calls.Load(), len(h.sleeps))
	}
}

func TestBatchResilience(t *testing.T) {
	ctx := context.Background()
	keys := []string{"i1", "i2", "i3", "i4", "i5"}
	verdicts := map[string]string{}
	for _, k := range keys {
		verdicts[k] = "Yes"
	}
	h := newHarness(verdicts)
	for _, c := range h.clients {
		next := c.respond
		c.respond = func(item stage.Item) (string, error) {
			if item.Key == "i3" {
				return "", errors.New("error 503, upstream unavailable")
			}
			return next(item)
		}
	}
	o := h.orchestrator(t, 3, nil)

	state, err := o.Run(ctx, items(keys...))
	if err != nil {
		t.Fatal(err)
	}
	if state.Completed() != 4 || state.Failed() != 1 {
		t.Errorf("completed=%d failed=%d, want 4 and 1", state.Completed(), state.Failed())
	}
	for _, k := range keys {
		has, _ := h.ledger.Has(ctx, k, ledger.StageColorVerify)
		if has == (k == "i3") {
			t.Errorf("%s verification present = %v", k, has)
		}
	}
}

func TestRunBypassSkipsColorCheck(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	o := h.orchestrator(t, 1, nil)

	state, err := o.RunBypass(ctx, items("n1", "n2"), route.NotColorable)
	if err != nil {
		t.Fatal(err)
	}
	if state.Completed() != 2 {
		t.Errorf("completed = %d", state.Completed())
	}
	if got := h.clients[ledger.StageColorCheck].calls.Load(); got != 0 {
		t.Errorf("color check calls = %d, want 0", got)
	}
	got := state.Results()[0].Stages
	want := []ledger.Stage{ledger.StageCaption, ledger.StageNoncolorAnnotate, ledger.StageNoncolorVerify, ledger.StageNoncolorRegenerate}
	if len(got) != len(want) {
		t.Fatalf("stages = %+v", got)
	}
	for i := range want {
		if got[i].Stage != want[i] {
			t.Errorf("stage %d = %s, want %s", i, got[i].Stage, want[i])
		}
	}
	if diff := cmp.Diff([]string{"n1", "n2"}, sortedCopy(state.Buckets.NotColorable)); diff != "" {
		t.Errorf("bucket mismatch (-want +got):\n%s", diff)
	}
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	slices.Sort(out)
	return out
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string]string{"r": "Yes"})
	_ = h.ledger.Write(ctx, "r", ledger.StageCaption, "existing caption")
	_ = h.ledger.Write(ctx, "r", ledger.StageColorCheck, "Yes")
	o := h.orchestrator(t, 1, nil)

	res := o.RunItem(ctx, items("r")[0])
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if h.clients[ledger.StageCaption].calls.Load() != 0 || h.clients[ledger.StageColorCheck].calls.Load() != 0 {
		t.Error("completed stages were re-run")
	}
	if res.Stages[0].Outcome != OutcomeCached || res.Stages[2].Outcome != OutcomeProduced {
		t.Errorf("stages = %+v", res.Stages)
	}
	if got, _ := h.ledger.Read(ctx, "r", ledger.StageCaption); got != "existing caption" {
		t.Errorf("caption overwritten: %q", got)
	}
}

func TestSinkReceivesEveryItem(t *testing.T) {
	h := newHarness(map[string]string{"a": "Yes", "b": "No"})
	h.clients[ledger.StageNoncolorAnnotate].respond = func(stage.Item) (string, error) {
		return "", retry.Permanent(errors.New("rejected"))
	}
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	sink := ItemSinkFunc(func(_ context.Context, runID string, r ItemResult) error {
		if runID != "run-test" {
			t.Errorf("runID = %q", runID)
		}
		mu.Lock()
		seen[r.Key] = r.Err == nil
		mu.Unlock()
		return nil
	})
	o := h.orchestrator(t, 2, sink)
	if _, err := o.Run(context.Background(), items("a", "b")); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]bool{"a": true, "b": false}, seen); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{Ledger: ledger.NewMemory()}); err == nil {
		t.Error("expected error without caption client")
	}
	c := reply(ledger.StageCaption, "x")
	if _, err := New(Options{Ledger: ledger.NewMemory(), Clients: []StageClient{c, c}}); err == nil {
		t.Error("expected duplicate client error")
	}
	o, err := New(Options{Ledger: ledger.NewMemory(), Clients: []StageClient{c}, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), items("a")); err == nil {
		t.Error("full run without a color check client should fail")
	}
}

func TestCancelledRunStopsEarly(t *testing.T) {
	h := newHarness(map[string]string{})
	o := h.orchestrator(t, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err := o.RunBypass(ctx, items("a", "b"), route.NotColorable)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if state.Completed() != 0 {
		t.Errorf("completed = %d after cancel", state.Completed())
	}
}
