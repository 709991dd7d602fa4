// Package vlm is the vision-language-model boundary of the pipeline. A stage
// hands a Completer one Request (system prompt, few-shot exemplar turns, the
// live query) and receives the model's candidate texts.
//
// Two backends implement Completer: Gemini through google.golang.org/genai,
// and any OpenAI-compatible chat completions endpoint (including the proxy
// shims in this repository).
package vlm

import (
	"context"
	"encoding/base64"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Detail hints how much image resolution the model should spend.
type Detail string

const (
	DetailLow  Detail = "low"
	DetailHigh Detail = "high"
)

// Image is an encoded image attached to a turn.
type Image struct {
	MIMEType string
	Data     []byte
	Detail   Detail
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Message is one conversation turn: text, optionally followed by one image.
type Message struct {
	Role  Role
	Text  string
	Image *Image
}

// Params are the sampling parameters of a call. Nil pointers are omitted.
type Params struct {
	Temperature     *float32
	TopP            *float32
	PresencePenalty *float32
	// N is the number of candidates requested. Zero means one.
	N int
}

// Request is a full stage call.
type Request struct {
	// Stage names the calling stage for logs and metrics.
	Stage string
	// System is the system instruction.
	System string
	// Exemplars are alternating user/assistant few-shot turns placed after
	// the system instruction and before Query. Shared read-only across calls.
	Exemplars []Message
	// Query is the live user turn.
	Query  Message
	Params Params
	// CacheKey, when set, lets a backend cache System and Exemplars across
	// calls with the same key.
	CacheKey string
}

// Response holds the candidate texts in order.
type Response struct {
	Choices      []string
	InputTokens  int
	OutputTokens int
}

// Completer performs one blocking model call.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }
