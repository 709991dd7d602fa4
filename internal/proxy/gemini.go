package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// Translator defaults.
const (
	DefaultMaxOutputTokens  = 65535
	DefaultTranslateTimeout = 300 * time.Second
	translatorModelID       = "google-gemini"
)

// Generator is the Gemini call the translator makes. *genai.Models
// satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ Generator = (*genai.Models)(nil)

// NewUpstreamGemini creates a genai client that talks to a Gemini-compatible
// gateway at baseURL, authenticating with an api-key header.
func NewUpstreamGemini(ctx context.Context, baseURL, apiKey string) (*genai.Client, error) {
	headers := http.Header{}
	headers.Set("api-key", apiKey)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
			Headers: headers,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create upstream gemini client: %w", err)
	}
	return client, nil
}

// Translator serves OpenAI chat completions from a Gemini model.
type Translator struct {
	gen     Generator
	model   string
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTranslator creates a Translator calling model through gen.
func NewTranslator(gen Generator, model string, logger zerolog.Logger) *Translator {
	return &Translator{
		gen:     gen,
		model:   model,
		timeout: DefaultTranslateTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns a mux serving /health, /v1/chat/completions and /v1/models.
func (t *Translator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", Health("rda-proxy-gemini"))
	mux.HandleFunc("/v1/chat/completions", t.handleChat)
	mux.HandleFunc("/v1/models", t.handleModels)
	return WithLogging("gemini", t.logger, mux)
}

// chatRequest adds the fields the translator inspects but never forwards.
type chatRequest struct {
	vlm.ChatRequest
	Stream bool `json:"stream,omitempty"`
}

func (t *Translator) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "decode body: "+err.Error())
		return
	}
	if req.Stream {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "stream mode not supported")
		return
	}
	contents, config, err := ToGemini(req.ChatRequest)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	t.logger.Debug().
		Int("requestBytes", len(data)).
		Int("contents", len(contents)).
		Msg("Translating chat request")

	ctx, cancel := context.WithTimeout(r.Context(), t.timeout)
	defer cancel()
	resp, err := t.gen.GenerateContent(ctx, t.model, contents, config)
	if err != nil {
		status, kind := upstreamStatus(err)
		httpError(w, status, kind, err.Error())
		return
	}
	out := FromGemini(resp, t.now())
	for _, c := range out.Choices {
		if c.FinishReason == "length" {
			t.logger.Warn().Msg("Response truncated at max tokens")
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (t *Translator) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       translatorModelID,
			"object":   "model",
			"owned_by": "google",
		}},
	})
}

func upstreamStatus(err error) (int, string) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 {
		return apiErr.Code, "api_error"
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code >= 400 {
		return apiErrPtr.Code, "api_error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusBadGateway, "upstream_error"
}

// ToGemini converts an OpenAI chat request. System messages become the
// system instruction, assistant turns become model turns, and data-URL
// images become inline blobs. Unset max_tokens and top_p default to 65535
// and 1; the seed is pinned to 0.
func ToGemini(req vlm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: DefaultMaxOutputTokens,
		Seed:            genai.Ptr[int32](0),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if config.TopP == nil {
		config.TopP = genai.Ptr[float32](1)
	}
	if req.N > 1 {
		config.CandidateCount = int32(req.N)
	}

	var contents []*genai.Content
	for i, m := range req.Messages {
		if m.Role == "system" {
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content.PlainText()}}}
			continue
		}
		parts, err := geminiParts(m.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("no user or assistant content")
	}
	return contents, config, nil
}

func geminiParts(c vlm.ChatContent) ([]*genai.Part, error) {
	if len(c.Parts) == 0 {
		if c.Text == "" {
			return nil, nil
		}
		return []*genai.Part{{Text: c.Text}}, nil
	}
	var parts []*genai.Part
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, &genai.Part{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			blob, err := DecodeDataURL(p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			if blob != nil {
				parts = append(parts, &genai.Part{InlineData: blob})
			}
		}
	}
	return parts, nil
}

// DecodeDataURL parses a base64 data URL. Non-data URLs yield nil.
func DecodeDataURL(u string) (*genai.Blob, error) {
	if !strings.HasPrefix(u, "data:") {
		return nil, nil
	}
	header, payload, ok := strings.Cut(u, ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	mime, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return &genai.Blob{MIMEType: mime, Data: data}, nil
}

// FromGemini converts a Gemini response to an OpenAI chat response with one
// choice per candidate. Thought parts are dropped.
func FromGemini(resp *genai.GenerateContentResponse, now time.Time) vlm.ChatResponse {
	out := vlm.ChatResponse{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   translatorModelID,
		Choices: []vlm.ChatChoice{},
	}
	if resp == nil {
		return out
	}
	for i, c := range resp.Candidates {
		if c == nil {
			continue
		}
		var sb strings.Builder
		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if p == nil || p.Thought {
					continue
				}
				sb.WriteString(p.Text)
			}
		}
		reason := "stop"
		if c.FinishReason == genai.FinishReasonMaxTokens {
			reason = "length"
		}
		out.Choices = append(out.Choices, vlm.ChatChoice{
			Index:        i,
			Message:      vlm.ChatMessage{Role: "assistant", Content: vlm.ChatContent{Text: sb.String()}},
			FinishReason: reason,
		})
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &vlm.ChatUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out
}
