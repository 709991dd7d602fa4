package retry

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// Kind separates failures worth retrying from failures that will not change
// on a second attempt.
type Kind int

const (
	// KindTransient covers rate limits, network errors, upstream 5xx and
	// malformed responses. Retried once after the backoff.
	KindTransient Kind = iota
	// KindPermanent covers missing inputs, rejected credentials and invalid
	// requests. Never retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error tags a stage failure with its Kind and location.
type Error struct {
	Kind  Kind
	Stage string
	Item  string
	Err   error
}

func (e *Error) Error() string {
	prefix := e.Stage
	if e.Item != "" {
		prefix += " " + e.Item
	}
	if prefix == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return prefix + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the policy does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// Transient wraps err as explicitly retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// statusPattern matches the "Error 429, Message: ..." form genai uses when
// formatting API errors that arrive unwrapped.
var statusPattern = regexp.MustCompile(`\berror (\d{3})\b`)

// StatusError carries an HTTP status from a non-genai backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return "upstream status " + strconv.Itoa(e.Code) + ": " + body
}

// Classify returns the Kind of err. Errors already tagged keep their tag;
// unknown errors default to transient, matching the treatment of malformed
// responses.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(apiErrPtr.Code)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	lower := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(lower); m != nil {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(code)
	}
	switch {
	case strings.Contains(lower, "api key not valid"),
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "permission denied"):
		return KindPermanent
	}
	return KindTransient
}

func classifyStatus(code int) Kind {
	switch {
	case code == 429, code == 408, code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}
