package ai

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		message string
		want    ErrorKind
	}{
		{"insufficient_quota: you have run out", KindQuotaExhausted},
		{"your credit balance is too low", KindQuotaExhausted},
		{"billing hard limit reached", KindQuotaExhausted},
		{"429 Too Many Requests", KindRateLimited},
		{"rate limit exceeded, retry later", KindRateLimited},
		{"RESOURCE_EXHAUSTED", KindRateLimited},
		{"401 Unauthorized", KindUnauthorized},
		{"status 403", KindUnauthorized},
		{"invalid api key provided", KindUnauthorized},
		{"permission denied for model", KindUnauthorized},
		{"connection reset by peer", KindTransient},
		{"502 bad gateway", KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyAPIError(errors.New(tt.message)))
		})
	}
	assert.Equal(t, KindTransient, classifyAPIError(nil))
}

func TestProviderErrorRetryable(t *testing.T) {
	assert.True(t, newProviderError("p", KindTransient, errors.New("x")).Retryable())
	assert.True(t, newProviderError("p", KindRateLimited, errors.New("x")).Retryable())
	assert.False(t, newProviderError("p", KindQuotaExhausted, errors.New("x")).Retryable())
	assert.False(t, newProviderError("p", KindUnauthorized, errors.New("x")).Retryable())
	assert.False(t, newProviderError("p", KindMalformedResponse, errors.New("x")).Retryable())
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := newProviderError("p", KindUnauthorized, errors.New("denied"))
	wrapped := fmt.Errorf("all providers failed: %w", inner)

	assert.Equal(t, KindUnauthorized, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(errors.New("plain")))
}
