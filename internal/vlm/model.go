package vlm

import "os"

// Backend names.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Model IDs
//
// | Backend | Model                 | Use case                              |
// |---------|-----------------------|---------------------------------------|
// | gemini  | gemini-2.5-pro        | Highest accuracy descriptions         |
// | gemini  | gemini-2.5-flash      | Default: balanced cost and accuracy   |
// | gemini  | gemini-2.5-flash-lite | High-volume captioning                |
// | openai  | gpt-4o                | OpenAI-compatible endpoints and proxy |
const (
	ModelGemini25Pro       = "gemini-2.5-pro"
	ModelGemini25Flash     = "gemini-2.5-flash"
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
	ModelGPT4o             = "gpt-4o"
)

// DefaultModelName returns the default model for a backend.
func DefaultModelName(backend string) string {
	if backend == BackendOpenAI {
		return ModelGPT4o
	}
	return ModelGemini25Flash
}

// GetModelName resolves the model from RDA_MODEL, then GEMINI_MODEL for the
// Gemini backend, then the backend default.
func GetModelName(backend string) string {
	if env := os.Getenv("RDA_MODEL"); env != "" {
		return env
	}
	if backend != BackendOpenAI {
		if env := os.Getenv("GEMINI_MODEL"); env != "" {
			return env
		}
	}
	return DefaultModelName(backend)
}
