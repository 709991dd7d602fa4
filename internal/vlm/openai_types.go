package vlm

import (
	"encoding/json"
	"fmt"
)

// ChatRequest is the OpenAI chat completions request body. The batch JSONL
// writer and the proxy shims share it with the OpenAI completer.
type ChatRequest struct {
	Model           string        `json:"model,omitempty"`
	Messages        []ChatMessage `json:"messages"`
	Temperature     *float32      `json:"temperature,omitempty"`
	TopP            *float32      `json:"top_p,omitempty"`
	PresencePenalty *float32      `json:"presence_penalty,omitempty"`
	N               int           `json:"n,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
}

// ChatMessage is one message. Content is either a plain string or an array of
// typed parts; ChatContent handles both encodings.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content ChatContent `json:"content"`
}

// ChatContent holds message content. When Parts is empty it encodes as the
// plain string Text.
type ChatContent struct {
	Text  string
	Parts []ContentPart
}

// ContentPart is a typed element of array-form content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, usually as a data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) == 0 {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	}
	if string(data) == "null" {
		*c = ChatContent{}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	c.Text = ""
	c.Parts = parts
	return nil
}

// PlainText returns the concatenated text of the content.
func (c ChatContent) PlainText() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ChatResponse is the OpenAI chat completions response body.
type ChatResponse struct {
	ID      string       `json:"id,omitempty"`
	Object  string       `json:"object,omitempty"`
	Created int64        `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one candidate completion.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatUsage reports token counts.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequestFrom renders req in OpenAI format. Assistant turns carry plain
// string content; user turns with an image use array content.
func ChatRequestFrom(model string, req Request) ChatRequest {
	msgs := make([]ChatMessage, 0, len(req.Exemplars)+2)
	if req.System != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: ChatContent{Text: req.System}})
	}
	for _, m := range req.Exemplars {
		msgs = append(msgs, chatMessage(m))
	}
	msgs = append(msgs, chatMessage(req.Query))

	out := ChatRequest{
		Model:           model,
		Messages:        msgs,
		Temperature:     req.Params.Temperature,
		TopP:            req.Params.TopP,
		PresencePenalty: req.Params.PresencePenalty,
	}
	if req.Params.N > 1 {
		out.N = req.Params.N
	}
	return out
}

func chatMessage(m Message) ChatMessage {
	if m.Image == nil {
		return ChatMessage{Role: string(m.Role), Content: ChatContent{Text: m.Text}}
	}
	var parts []ContentPart
	if m.Text != "" {
		parts = append(parts, ContentPart{Type: "text", Text: m.Text})
	}
	parts = append(parts, ContentPart{
		Type:     "image_url",
		ImageURL: &ImageURL{URL: m.Image.DataURL(), Detail: string(m.Image.Detail)},
	})
	return ChatMessage{Role: string(m.Role), Content: ChatContent{Parts: parts}}
}
