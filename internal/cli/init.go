// Package cli holds the command-line plumbing shared by the rda commands:
// model initialization, directory checks and plain-text reports.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/sunzc-sunny/RDAnnotator/internal/auth"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// Model is an initialized model backend.
type Model struct {
	Name      string
	Backend   string
	Completer vlm.Completer
	// Gemini is nil for the OpenAI-compatible backend.
	Gemini *genai.Client
	// Cache is set when exemplar caching is enabled.
	Cache *vlm.CacheManager
}

// InitModel resolves the API key, creates the configured backend and, for
// Gemini, validates the key with a minimal call. ssmClient may be nil.
func InitModel(ctx context.Context, cfg *config.Config, ssmClient auth.SSMAPI, runID string, logger zerolog.Logger) (*Model, error) {
	name := cfg.Model
	if name == "" {
		name = vlm.GetModelName(cfg.Backend)
	}
	src := auth.Sources{Key: cfg.APIKey}
	if ssmClient != nil {
		src.SSM = ssmClient
		src.SSMParam = cfg.APIKeySSMParam
	}
	apiKey, err := auth.GetAPIKey(ctx, src)

	switch cfg.Backend {
	case config.BackendOpenAI:
		if err != nil {
			// Local proxy shims do not check keys.
			if cfg.Endpoint == "" {
				return nil, ExplainValidationError(err)
			}
			logger.Warn().Str("endpoint", cfg.Endpoint).Msg("No API key, calling endpoint without one")
		}
		logger.Info().Str("model", name).Str("endpoint", cfg.Endpoint).Msg("OpenAI-compatible backend ready")
		return &Model{
			Name:      name,
			Backend:   cfg.Backend,
			Completer: vlm.NewOpenAI(cfg.Endpoint, apiKey, name, cfg.RequestTimeout(), logger),
		}, nil

	case config.BackendGemini:
		if err != nil {
			return nil, ExplainValidationError(err)
		}
		client, err := vlm.NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connection successful - Gemini client initialized")
		if err := auth.ValidateAPIKey(ctx, client.Models, name); err != nil {
			return nil, ExplainValidationError(err)
		}
		logger.Info().Str("model", name).Msg("API key validation complete - ready for operations")

		m := &Model{Name: name, Backend: cfg.Backend, Gemini: client}
		opts := []vlm.GeminiOption{vlm.WithTimeout(cfg.RequestTimeout())}
		if cfg.ExemplarCache {
			m.Cache = vlm.NewCacheManager(client, runID, 0)
			opts = append(opts, vlm.WithCache(m.Cache))
		}
		m.Completer = vlm.NewGemini(client, name, logger, opts...)
		return m, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Close releases run-scoped remote resources.
func (m *Model) Close(ctx context.Context) {
	if m != nil && m.Cache != nil {
		m.Cache.DeleteAll(ctx)
	}
}

// ErrNoGemini is returned by commands that need the Gemini backend.
var ErrNoGemini = errors.New("this command requires the gemini backend")
