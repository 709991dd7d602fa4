package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
)

// Shim modes.
const (
	ModeOpenAI = "openai"
	ModeGemini = "gemini"
)

// DefaultGeminiModel is the model the Gemini shim calls when none is set.
const DefaultGeminiModel = "gemini-2.5-pro"

// Settings selects and configures one shim.
type Settings struct {
	Mode string
	// Target is the upstream base URL. For the Gemini shim an empty target
	// uses the public Gemini API.
	Target     string
	APIKey     string
	APIVersion string
	Model      string
	Timeout    time.Duration
}

// SettingsFromEnv reads RDA_PROXY_MODE, RDA_PROXY_TARGET, RDA_PROXY_API_KEY,
// RDA_PROXY_API_VERSION, RDA_PROXY_MODEL and RDA_PROXY_TIMEOUT_SECONDS.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		Mode:       logging.EnvOrDefault("RDA_PROXY_MODE", ModeOpenAI),
		Target:     os.Getenv("RDA_PROXY_TARGET"),
		APIKey:     os.Getenv("RDA_PROXY_API_KEY"),
		APIVersion: os.Getenv("RDA_PROXY_API_VERSION"),
		Model:      os.Getenv("RDA_PROXY_MODEL"),
	}
	if v := os.Getenv("RDA_PROXY_TIMEOUT_SECONDS"); v != "" {
		d, err := time.ParseDuration(v + "s")
		if err != nil {
			return Settings{}, fmt.Errorf("invalid RDA_PROXY_TIMEOUT_SECONDS=%q: %w", v, err)
		}
		s.Timeout = d
	}
	return s, nil
}

// NewHandler builds the shim s selects.
func NewHandler(ctx context.Context, s Settings, logger zerolog.Logger) (http.Handler, error) {
	switch s.Mode {
	case ModeOpenAI:
		f, err := NewForwarder(ForwarderConfig{
			Target:     s.Target,
			APIKey:     s.APIKey,
			APIVersion: s.APIVersion,
			Timeout:    s.Timeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return f.Handler(), nil
	case ModeGemini:
		if s.APIKey == "" {
			return nil, errors.New("gemini shim api key is required")
		}
		client, err := NewUpstreamGemini(ctx, s.Target, s.APIKey)
		if err != nil {
			return nil, err
		}
		model := s.Model
		if model == "" {
			model = DefaultGeminiModel
		}
		t := NewTranslator(client.Models, model, logger)
		if s.Timeout > 0 {
			t.timeout = s.Timeout
		}
		return t.Handler(), nil
	default:
		return nil, fmt.Errorf("unknown proxy mode %q (want openai or gemini)", s.Mode)
	}
}
