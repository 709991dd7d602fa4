package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Forwarder defaults.
const (
	DefaultAPIVersion     = "2024-02-01"
	DefaultForwardTimeout = 60 * time.Second
)

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// Target is the upstream base URL; /v1/<path> maps to <Target>/<path>.
	Target     string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
	Client     *http.Client
	Logger     zerolog.Logger
}

// Forwarder relays OpenAI-style requests to an Azure-style deployment,
// replacing client credentials with the upstream api-key header. Upstream
// status and body are relayed unchanged.
type Forwarder struct {
	target     string
	apiKey     string
	apiVersion string
	client     *http.Client
	logger     zerolog.Logger
}

// NewForwarder validates cfg and creates a Forwarder.
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	if cfg.Target == "" {
		return nil, errors.New("forwarder target is required")
	}
	if _, err := url.Parse(cfg.Target); err != nil {
		return nil, fmt.Errorf("forwarder target: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("forwarder api key is required")
	}
	f := &Forwarder{
		target:     strings.TrimRight(cfg.Target, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
	if f.apiVersion == "" {
		f.apiVersion = DefaultAPIVersion
	}
	if f.client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultForwardTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	}
	return f, nil
}

// Handler returns a mux serving /health and /v1/.
func (f *Forwarder) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", Health("rda-proxy-openai"))
	mux.Handle("/v1/", f)
	return WithLogging("openai", f.logger, mux)
}

// UpstreamURL maps a /v1/ request path onto the upstream.
func (f *Forwarder) UpstreamURL(path string) string {
	rest := strings.TrimPrefix(path, "/v1/")
	q := url.Values{"api-version": {f.apiVersion}}
	return f.target + "/" + rest + "?" + q.Encode()
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet {
		data, ok := readBody(w, r)
		if !ok {
			return
		}
		body = bytes.NewReader(data)
	}

	upstream := f.UpstreamURL(r.URL.Path)
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream, body)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	req.Header.Set("api-key", f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			httpError(w, http.StatusGatewayTimeout, "timeout", "request timeout")
			return
		}
		f.logger.Error().Err(err).Str("upstream", upstream).Msg("Upstream request failed")
		httpError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warn().Err(err).Msg("Relay response body interrupted")
	}
}
