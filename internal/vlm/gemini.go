package vlm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// Gemini is a Completer backed by the Gemini GenerateContent API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	cache   *CacheManager
	logger  zerolog.Logger
}

// Compile-time interface check.
var _ Completer = (*Gemini)(nil)

// GeminiOption configures a Gemini completer.
type GeminiOption func(*Gemini)

// WithCache enables exemplar prefix caching for requests carrying a CacheKey.
func WithCache(cm *CacheManager) GeminiOption {
	return func(g *Gemini) { g.cache = cm }
}

// WithTimeout bounds each call. Zero means no per-call deadline.
func WithTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) { g.timeout = d }
}

// NewGemini creates a Gemini completer for model.
func NewGemini(client *genai.Client, model string, logger zerolog.Logger, opts ...GeminiOption) *Gemini {
	g := &Gemini{client: client, model: model, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the configured model ID.
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	config := GeminiConfig(req)
	prefix := GeminiContents(req.Exemplars)
	query := GeminiContent(req.Query)

	var contents []*genai.Content
	cacheName := ""
	if g.cache != nil && req.CacheKey != "" && len(prefix) > 0 {
		cacheName = g.cache.GetOrCreate(ctx, req.CacheKey, g.model, config.SystemInstruction, prefix)
	}
	if cacheName != "" {
		config.CachedContent = cacheName
		config.SystemInstruction = nil
		contents = []*genai.Content{query}
	} else {
		contents = append(append(make([]*genai.Content, 0, len(prefix)+1), prefix...), query)
	}

	g.logger.Debug().
		Str("stage", req.Stage).
		Str("model", g.model).
		Int("turns", len(contents)).
		Bool("cached", cacheName != "").
		Msg("Sending Gemini request")

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start)
	if err != nil {
		observeCall(req.Stage, BackendGemini, elapsed, err, nil)
		return nil, fmt.Errorf("gemini %s: %w", req.Stage, err)
	}

	out := GeminiResponse(resp)
	observeCall(req.Stage, BackendGemini, elapsed, nil, out)
	g.logger.Debug().
		Str("stage", req.Stage).
		Dur("duration", elapsed).
		Int("choices", len(out.Choices)).
		Int("input_tokens", out.InputTokens).
		Int("output_tokens", out.OutputTokens).
		Msg("Gemini response received")
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("gemini %s: empty response", req.Stage)
	}
	return out, nil
}

// GeminiConfig maps the system prompt and sampling parameters of req onto a
// GenerateContentConfig.
func GeminiConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     req.Params.Temperature,
		TopP:            req.Params.TopP,
		PresencePenalty: req.Params.PresencePenalty,
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Params.N > 1 {
		config.CandidateCount = int32(req.Params.N)
	}
	if req.Query.Image != nil && req.Query.Image.Detail == DetailLow {
		config.MediaResolution = genai.MediaResolutionLow
	}
	return config
}

// GeminiContents converts turns to Gemini contents. The assistant role maps
// to "model".
func GeminiContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, GeminiContent(m))
	}
	return out
}

// GeminiContent converts a single turn. Text precedes the image.
func GeminiContent(m Message) *genai.Content {
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	var parts []*genai.Part
	if m.Text != "" {
		parts = append(parts, &genai.Part{Text: m.Text})
	}
	if m.Image != nil {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: m.Image.MIMEType, Data: m.Image.Data},
		})
	}
	return &genai.Content{Role: role, Parts: parts}
}

// GeminiResponse extracts the candidate texts and token usage. Thought parts
// are skipped.
func GeminiResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range c.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			sb.WriteString(p.Text)
		}
		out.Choices = append(out.Choices, sb.String())
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out
}
