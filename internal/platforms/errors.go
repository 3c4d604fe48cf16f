package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// ErrorKind classifies a provider failure
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindServer      ErrorKind = "server"
	KindBadRequest  ErrorKind = "bad_request"
	KindMalformed   ErrorKind = "malformed_response"
	KindUnavailable ErrorKind = "unavailable"
)

// ProviderError is returned by a platform when it could not produce a response.
// The orchestrator treats it as "no data from this platform".
type ProviderError struct {
	Platform   models.PlatformID
	Kind       ErrorKind
	StatusCode int
	Retryable  bool
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Platform, e.Kind)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsProviderError reports whether err carries a ProviderError
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// ValidationError reports a malformed request rejected before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func unavailable(platform models.PlatformID) *ProviderError {
	return &ProviderError{
		Platform: platform,
		Kind:     KindUnavailable,
		Message:  "no API key configured",
	}
}

// classifyStatus maps a non-2xx provider status to a ProviderError
func classifyStatus(platform models.PlatformID, status int, body []byte) *ProviderError {
	pe := &ProviderError{
		Platform:   platform,
		StatusCode: status,
		Message:    truncate(strings.TrimSpace(string(body)), 200),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		pe.Kind = KindRateLimited
		pe.Retryable = true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		pe.Kind = KindTimeout
		pe.Retryable = true
	case status >= 500:
		pe.Kind = KindServer
		pe.Retryable = true
	default:
		pe.Kind = KindBadRequest
	}

	return pe
}

// classifyTransport maps a client-side failure (no usable HTTP status) to a ProviderError
func classifyTransport(platform models.PlatformID, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Platform: platform, Kind: KindTimeout, Retryable: true, Cause: err}
	}

	if errors.Is(err, context.Canceled) {
		return &ProviderError{Platform: platform, Kind: KindNetwork, Message: "request canceled", Cause: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return malformed(platform, err)
	}

	return &ProviderError{Platform: platform, Kind: KindNetwork, Retryable: true, Cause: err}
}

func malformed(platform models.PlatformID, err error) *ProviderError {
	return &ProviderError{Platform: platform, Kind: KindMalformed, Cause: err}
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
