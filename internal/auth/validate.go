package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Generator is the model call used for validation. *genai.Models
// satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ValidateAPIKey verifies the key behind gen with a minimal call to model.
// It returns nil if the key is valid, or a ValidationError whose Type says
// why it is not.
func ValidateAPIKey(ctx context.Context, gen Generator, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key")

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	result := "success"
	var valErr *ValidationError
	switch {
	case err != nil:
		valErr = classifyError(err)
		result = valErr.Type.String()
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		result = "empty_response"
		valErr = &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "API returned empty response",
		}
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// messageHints maps error-text fragments to a failure type for errors that
// carry no API status code. The first matching entry wins.
var messageHints = []struct {
	typ       ValidationErrorType
	message   string
	fragments []string
}{
	{ErrTypeInvalidKey, "API key is invalid or has been revoked",
		[]string{"api key not valid", "invalid api key", "api_key_invalid", "permission denied"}},
	{ErrTypeQuotaExceeded, "API quota exceeded or rate limited",
		[]string{"quota", "resource exhausted", "rate limit"}},
	{ErrTypeNetworkError, "Network error, check connectivity to the model endpoint",
		[]string{"connection", "network", "timeout", "dial", "no such host", "unreachable"}},
}

// classifyError maps a validation call failure to a ValidationError.
func classifyError(err error) *ValidationError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(&apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyAPIError(apiErrPtr)
	}

	lower := strings.ToLower(err.Error())
	for _, h := range messageHints {
		for _, f := range h.fragments {
			if strings.Contains(lower, f) {
				log.Error().Err(err).Str("type", h.typ.String()).Msg("API key validation failed")
				return &ValidationError{Type: h.typ, Message: h.message, Err: err}
			}
		}
	}
	log.Error().Err(err).Msg("Unknown error during API key validation")
	return &ValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
}

// classifyAPIError maps a Gemini API status code to a ValidationError.
func classifyAPIError(err *genai.APIError) *ValidationError {
	v := &ValidationError{Type: ErrTypeUnknown, Message: err.Message, Err: err}
	switch {
	case err.Code == 400:
		v.Type, v.Message = ErrTypeInvalidKey, "Bad request, the API key may be malformed"
	case err.Code == 401 || err.Code == 403:
		v.Type, v.Message = ErrTypeInvalidKey, "API key is invalid, expired, or lacks permissions"
	case err.Code == 429:
		v.Type, v.Message = ErrTypeQuotaExceeded, "API rate limit exceeded, try again later"
	case err.Code >= 500:
		v.Type, v.Message = ErrTypeNetworkError, "Model API server error, try again later"
	}
	log.Error().Int("code", err.Code).Str("type", v.Type.String()).Msg("Model API rejected validation call")
	return v
}
