package vlm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
)

// DefaultOpenAIEndpoint is the public OpenAI API base.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAI is a Completer for any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   zerolog.Logger
}

// Compile-time interface check.
var _ Completer = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-compatible completer. endpoint is the API base
// including the version segment (".../v1"); empty uses DefaultOpenAIEndpoint.
func NewOpenAI(endpoint, apiKey, model string, timeout time.Duration, logger zerolog.Logger) *OpenAI {
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	return &OpenAI{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Model returns the configured model ID.
func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(ChatRequestFrom(o.model, req))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	o.logger.Debug().
		Str("stage", req.Stage).
		Str("model", o.model).
		Int("bytes", len(body)).
		Msg("Sending chat completion request")

	start := time.Now()
	out, err := o.do(httpReq)
	elapsed := time.Since(start)
	observeCall(req.Stage, BackendOpenAI, elapsed, err, out)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", req.Stage, err)
	}
	o.logger.Debug().
		Str("stage", req.Stage).
		Dur("duration", elapsed).
		Int("choices", len(out.Choices)).
		Msg("Chat completion received")
	return out, nil
}

func (o *OpenAI) do(httpReq *http.Request) (*Response, error) {
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var chat ChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	out := &Response{Choices: make([]string, 0, len(chat.Choices))}
	for _, c := range chat.Choices {
		out.Choices = append(out.Choices, c.Message.Content.PlainText())
	}
	if chat.Usage != nil {
		out.InputTokens = chat.Usage.PromptTokens
		out.OutputTokens = chat.Usage.CompletionTokens
	}
	return out, nil
}
