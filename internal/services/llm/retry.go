package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines backoff behavior for provider rate-limit handling
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Defaults tuned to observed provider quota windows of roughly a minute
const (
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 45 * time.Second
	DefaultMaxBackoff        = 90 * time.Second
	DefaultBackoffMultiplier = 1.5
)

// NewDefaultRetryConfig returns retry settings suitable for provider
// rate-limit windows
func NewDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// IsRateLimitError checks whether an error is a provider rate-limit error.
// Matches 429 status codes and RESOURCE_EXHAUSTED responses.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "quota")
}

// IsRetryableError checks whether an error is transient: network failures,
// timeouts, and provider 5xx responses
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimitError(err) {
		return true
	}
	errStr := err.Error()
	for _, marker := range []string{"500", "502", "503", "504", "overloaded", "timeout", "deadline exceeded", "connection refused", "connection reset", "EOF"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// retryDelayRegex matches "Please retry in Xs", "retryDelay:Xs" and
// "retry-after: X" patterns in provider error messages
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+|retry-after[:\s]+)(\d+(?:\.\d+)?)\s*s?`)

// ExtractRetryDelay parses the provider-suggested retry delay from an error.
// Returns 0 when no delay is present.
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the wait before a given attempt. A provider
// supplied delay takes priority over the configured initial backoff; the
// result is capped at MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + 5*time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	return backoff
}
