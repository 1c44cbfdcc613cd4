package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	base := 5 * time.Second
	cap := 300 * time.Second

	assert.Equal(t, 5*time.Second, RetryBackoff(0, base, cap))
	assert.Equal(t, 10*time.Second, RetryBackoff(1, base, cap))
	assert.Equal(t, 20*time.Second, RetryBackoff(2, base, cap))
	assert.Equal(t, 40*time.Second, RetryBackoff(3, base, cap))
	assert.Equal(t, 80*time.Second, RetryBackoff(4, base, cap))
	assert.Equal(t, 160*time.Second, RetryBackoff(5, base, cap))
	assert.Equal(t, 300*time.Second, RetryBackoff(6, base, cap))
	assert.Equal(t, 300*time.Second, RetryBackoff(20, base, cap))
}

func TestRetryBackoffCapBelowBase(t *testing.T) {
	assert.Equal(t, time.Second, RetryBackoff(0, 5*time.Second, time.Second))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "NotFound", ErrorKind(ErrNotFound))
	assert.Equal(t, "ValidationError", ErrorKind(ErrValidation))
	assert.Equal(t, "InternalError", ErrorKind(assertAnError()))
}

func assertAnError() error {
	return &customErr{}
}

type customErr struct{}

func (e *customErr) Error() string { return "something else" }
