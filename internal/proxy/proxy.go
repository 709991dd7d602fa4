// Package proxy implements the OpenAI-compatible shims the pipeline can talk
// to when its model backend is not directly reachable:
//
//	GET  /health                 liveness
//	ANY  /v1/{path}              Azure-style forwarder (api-key header, api-version query)
//	POST /v1/chat/completions    Gemini translator (OpenAI chat in, OpenAI chat out)
//	GET  /v1/models              model list for the translator
//
// Both shims run behind the same middleware and can be served locally
// (cmd/rda-proxy) or from Lambda (cmd/rda-proxy-lambda).
package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
)

// ErrorBody is the OpenAI error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, ErrorBody{Error: ErrorDetail{Message: message, Type: kind, Code: status}})
}

// maxBodyBytes caps request bodies. Inline base64 images dominate the size.
var maxBodyBytes int64 = 64 << 20

// readBody reads the capped request body. On failure it writes the error
// response and returns false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds limit")
			return nil, false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "read body: "+err.Error())
		return nil, false
	}
	return data, true
}

// Health reports liveness.
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// WithLogging logs and records metrics for every request: ProxyLatencyMs and
// ProxyRequests with Endpoint and Shim dimensions.
func WithLogging(shim string, logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sr, r)
		elapsed := time.Since(start)

		ev := logger.Info()
		if sr.statusCode >= 500 {
			ev = logger.Error()
		} else if sr.statusCode >= 400 {
			ev = logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sr.statusCode).
			Dur("elapsed", elapsed).
			Msg("Proxied request")

		metrics.New(metrics.Namespace).
			Dimension("Shim", shim).
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Metric("ProxyLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("ProxyRequests").
			Property("statusCode", sr.statusCode).
			Flush()
	})
}

// normalizeEndpoint keeps metric dimensions low-cardinality: deployment and
// job IDs in forwarded paths collapse to "*".
func normalizeEndpoint(path string) string {
	switch path {
	case "/health", "/v1/chat/completions", "/v1/models":
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if i > 1 && p != "chat" && p != "completions" {
			parts[i] = "*"
		}
	}
	return "/" + strings.Join(parts, "/")
}
