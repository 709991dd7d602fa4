package batch

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// ChatCompletionsURL is the per-line target of an OpenAI batch file.
const ChatCompletionsURL = "/v1/chat/completions"

// Line is one request line of an OpenAI-format batch file.
type Line struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     vlm.ChatRequest `json:"body"`
}

// WriteJSONL writes reqs as OpenAI batch lines, one JSON object per line,
// with the item key as custom_id.
func WriteJSONL(w io.Writer, model string, reqs []Request) error {
	enc := json.NewEncoder(w)
	for _, r := range reqs {
		line := Line{
			CustomID: r.Key,
			Method:   "POST",
			URL:      ChatCompletionsURL,
			Body:     vlm.ChatRequestFrom(model, r.Req),
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode %s: %w", r.Key, err)
		}
	}
	return nil
}
