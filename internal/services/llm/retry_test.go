package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("429 Too Many Requests")))
	assert.True(t, IsRateLimitError(errors.New("rpc error: RESOURCE_EXHAUSTED")))
	assert.True(t, IsRateLimitError(errors.New("rate_limit_error: tokens exceeded")))
	assert.False(t, IsRateLimitError(errors.New("400 invalid_request_error")))
	assert.False(t, IsRateLimitError(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(errors.New("503 Service Unavailable")))
	assert.True(t, IsRetryableError(errors.New("server overloaded, try again")))
	assert.True(t, IsRetryableError(errors.New("context deadline exceeded")))
	assert.False(t, IsRetryableError(errors.New("401 authentication failed")))
}

func TestExtractRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, ExtractRetryDelay(errors.New("429: Please retry in 30s")))
	assert.Equal(t, 12*time.Second, ExtractRetryDelay(errors.New("quota exceeded, retryDelay: 12s")))
	assert.Equal(t, time.Duration(0), ExtractRetryDelay(errors.New("503 no hint here")))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := NewDefaultRetryConfig()

	assert.Equal(t, DefaultInitialBackoff, cfg.CalculateBackoff(0, 0))
	assert.Greater(t, cfg.CalculateBackoff(1, 0), cfg.CalculateBackoff(0, 0))
	assert.LessOrEqual(t, cfg.CalculateBackoff(10, 0), DefaultMaxBackoff)

	// Provider-supplied delay takes priority over the configured base
	withHint := cfg.CalculateBackoff(0, 20*time.Second)
	assert.Equal(t, 25*time.Second, withHint)
}
