package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures for retry and breaker decisions.
type ErrorKind string

const (
	// KindTransient covers timeouts, connection resets and 5xx responses.
	// Retried against the same provider.
	KindTransient ErrorKind = "transient"
	// KindRateLimited is a 429 with possible retry-after. Retried.
	KindRateLimited ErrorKind = "rate_limited"
	// KindQuotaExhausted means the account is out of budget. Opens the
	// breaker immediately and moves to the next provider.
	KindQuotaExhausted ErrorKind = "quota_exhausted"
	// KindMalformedResponse is an unparseable model reply after the strict
	// re-ask. Not retried.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindUnauthorized is a credential failure. Not retried.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindUnavailable is a breaker-open or misconfigured provider.
	KindUnavailable ErrorKind = "unavailable"
)

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a retry against
// the same provider.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

func newProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// transient for unclassified failures.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// classifyAPIError maps an upstream API failure onto an ErrorKind by
// message inspection. Provider SDKs do not expose stable error types, so
// classification goes by status markers in the message, same as quota
// window handling everywhere else.
func classifyAPIError(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota") ||
		strings.Contains(msg, "billing") ||
		strings.Contains(msg, "credit balance"):
		return KindQuotaExhausted
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted"):
		return KindRateLimited
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "permission"):
		return KindUnauthorized
	default:
		return KindTransient
	}
}
