package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

func TestForwarderRelaysRequest(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	f, err := NewForwarder(ForwarderConfig{Target: upstream.URL + "/openai/", APIKey: "secret", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/deployments/gpt-4o/chat/completions", "application/json", strings.NewReader(`{"model":"x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusTeapot || string(body) != `{"ok":true}` {
		t.Errorf("relayed %d %q", resp.StatusCode, body)
	}
	if gotPath != "/openai/deployments/gpt-4o/chat/completions" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if gotQuery != "api-version=2024-02-01" {
		t.Errorf("upstream query = %q", gotQuery)
	}
	if gotKey != "secret" || gotBody != `{"model":"x"}` {
		t.Errorf("upstream key %q body %q", gotKey, gotBody)
	}
}

func TestForwarderUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	f, err := NewForwarder(ForwarderConfig{Target: target, APIKey: "k", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}")))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestForwarderTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	f, err := NewForwarder(ForwarderConfig{Target: upstream.URL, APIKey: "k", Timeout: 50 * time.Millisecond, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}")))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestNewForwarderValidation(t *testing.T) {
	if _, err := NewForwarder(ForwarderConfig{APIKey: "k"}); err == nil {
		t.Error("expected error without target")
	}
	if _, err := NewForwarder(ForwarderConfig{Target: "http://x"}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestHealth(t *testing.T) {
	f, err := NewForwarder(ForwarderConfig{Target: "http://upstream", APIKey: "k", Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	f.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestToGemini(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("jpegdata"))
	req := vlm.ChatRequest{
		Model: "gpt-4o",
		Messages: []vlm.ChatMessage{
			{Role: "system", Content: vlm.ChatContent{Text: "be terse"}},
			{Role: "user", Content: vlm.ChatContent{Parts: []vlm.ContentPart{
				{Type: "text", Text: "describe"},
				{Type: "image_url", ImageURL: &vlm.ImageURL{URL: "data:image/jpeg;base64," + img}},
			}}},
			{Role: "assistant", Content: vlm.ChatContent{Text: "a road"}},
			{Role: "user", Content: vlm.ChatContent{Text: ""}},
		},
		Temperature: vlm.Float32(0.3),
		N:           3,
	}

	contents, config, err := ToGemini(req)
	if err != nil {
		t.Fatalf("ToGemini: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2 (empty message dropped)", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("roles = %s, %s", contents[0].Role, contents[1].Role)
	}
	blob := contents[0].Parts[1].InlineData
	if blob == nil || blob.MIMEType != "image/jpeg" || string(blob.Data) != "jpegdata" {
		t.Errorf("inline data = %+v", blob)
	}
	if config.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("system = %+v", config.SystemInstruction)
	}
	if config.MaxOutputTokens != DefaultMaxOutputTokens || *config.TopP != 1 || *config.Seed != 0 {
		t.Errorf("defaults not applied: %+v", config)
	}
	if *config.Temperature != 0.3 || config.CandidateCount != 3 {
		t.Errorf("sampling = %+v", config)
	}
}

func TestToGeminiErrors(t *testing.T) {
	if _, _, err := ToGemini(vlm.ChatRequest{Messages: []vlm.ChatMessage{{Role: "system", Content: vlm.ChatContent{Text: "s"}}}}); err == nil {
		t.Error("expected error for system-only request")
	}
	bad := vlm.ChatRequest{Messages: []vlm.ChatMessage{{Role: "user", Content: vlm.ChatContent{Parts: []vlm.ContentPart{
		{Type: "image_url", ImageURL: &vlm.ImageURL{URL: "data:image/jpeg;base64,!!!"}},
	}}}}}
	if _, _, err := ToGemini(bad); err == nil {
		t.Error("expected error for bad base64")
	}
}

func TestFromGemini(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "thinking", Thought: true}, {Text: "Yes"}}}, FinishReason: genai.FinishReasonStop},
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "No"}}}, FinishReason: genai.FinishReasonMaxTokens},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 2, TotalTokenCount: 12},
	}
	out := FromGemini(resp, time.Unix(1700000000, 0))

	var texts, reasons []string
	for _, c := range out.Choices {
		texts = append(texts, c.Message.Content.PlainText())
		reasons = append(reasons, c.FinishReason)
	}
	if diff := cmp.Diff([]string{"Yes", "No"}, texts); diff != "" {
		t.Errorf("texts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"stop", "length"}, reasons); diff != "" {
		t.Errorf("finish reasons (-want +got):\n%s", diff)
	}
	if out.Usage == nil || out.Usage.TotalTokens != 12 || out.Created != 1700000000 {
		t.Errorf("usage/created = %+v %d", out.Usage, out.Created)
	}
	if !strings.HasPrefix(out.ID, "chatcmpl-") {
		t.Errorf("id = %q", out.ID)
	}
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	return f.resp, f.err
}

func TestTranslatorChat(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []*genai.Part{{Text: "car, red: [0.1, 0.2]"}}}},
	}}}
	tr := NewTranslator(gen, "gemini-2.5-flash", logging.Discard())
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"any","messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out vlm.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content.PlainText() != "car, red: [0.1, 0.2]" {
		t.Errorf("choices = %+v", out.Choices)
	}
	if gen.model != "gemini-2.5-flash" || len(gen.contents) != 1 {
		t.Errorf("generator saw model %q contents %d", gen.model, len(gen.contents))
	}
}

func TestTranslatorErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"stream rejected", `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil, http.StatusBadRequest},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"upstream status relayed", `{"messages":[{"role":"user","content":"hi"}]}`, genai.APIError{Code: 429, Message: "quota"}, http.StatusTooManyRequests},
		{"upstream timeout", `{"messages":[{"role":"user","content":"hi"}]}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTranslator(&fakeGenerator{err: tt.err}, "m", logging.Discard())
			rec := httptest.NewRecorder()
			tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var body ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Message == "" {
				t.Errorf("error body = %s", rec.Body)
			}
		})
	}
}

func TestTranslatorModels(t *testing.T) {
	tr := NewTranslator(&fakeGenerator{}, "m", logging.Discard())
	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), translatorModelID) {
		t.Errorf("models = %d %s", rec.Code, rec.Body)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"/health":                                 "/health",
		"/v1/chat/completions":                    "/v1/chat/completions",
		"/v1/deployments/gpt-4o/chat/completions": "/v1/deployments/*/chat/completions",
		"/v1/deployments/gpt-4o-mini/embeddings":  "/v1/deployments/*/*",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("RDA_PROXY_MODE", "")
	t.Setenv("RDA_PROXY_TARGET", "https://example.openai.azure.com/openai/deployments/gpt-4o")
	t.Setenv("RDA_PROXY_API_KEY", "k")
	t.Setenv("RDA_PROXY_API_VERSION", "")
	t.Setenv("RDA_PROXY_MODEL", "")
	t.Setenv("RDA_PROXY_TIMEOUT_SECONDS", "90")

	s, err := SettingsFromEnv()
	if err != nil {
		t.Fatalf("SettingsFromEnv: %v", err)
	}
	want := Settings{
		Mode:    ModeOpenAI,
		Target:  "https://example.openai.azure.com/openai/deployments/gpt-4o",
		APIKey:  "k",
		Timeout: 90 * time.Second,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("settings (-want +got):\n%s", diff)
	}

	t.Setenv("RDA_PROXY_TIMEOUT_SECONDS", "soon")
	if _, err := SettingsFromEnv(); err == nil {
		t.Error("expected error for invalid timeout")
	}
}

func TestNewHandler(t *testing.T) {
	ctx := context.Background()
	h, err := NewHandler(ctx, Settings{Mode: ModeOpenAI, Target: "http://upstream", APIKey: "k"}, logging.Discard())
	if err != nil {
		t.Fatalf("NewHandler(openai): %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	for _, s := range []Settings{
		{Mode: ModeOpenAI, Target: "http://upstream"},
		{Mode: ModeGemini},
		{Mode: "carrier-pigeon"},
	} {
		if _, err := NewHandler(ctx, s, logging.Discard()); err == nil {
			t.Errorf("NewHandler(%+v): expected error", s)
		}
	}
}

func TestRequestBodyLimit(t *testing.T) {
	defer func(n int64) { maxBodyBytes = n }(maxBodyBytes)
	maxBodyBytes = 32

	f, err := NewForwarder(ForwarderConfig{Target: "http://upstream.invalid", APIKey: "k", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	gen := &fakeGenerator{}
	handlers := map[string]http.Handler{
		"forwarder":  f,
		"translator": NewTranslator(gen, "gemini-2.5-flash", logging.Discard()).Handler(),
	}
	big := `{"model":"x","messages":[{"role":"user","content":"` + strings.Repeat("a", 64) + `"}]}`
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(big)))
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("status = %d, want 413", rec.Code)
			}
		})
	}
	if gen.contents != nil {
		t.Error("oversized request reached the model")
	}
}
