package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prmerge/pkg/models"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           `koanf:"max_retries"` // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration `koanf:"base_delay"`  // Base delay between retries (default: 1s)
	MaxDelay   time.Duration `koanf:"max_delay"`   // Maximum delay between retries (default: 30s)
	Multiplier float64       `koanf:"multiplier"`  // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          `koanf:"jitter"`      // Add random jitter to prevent thundering herd (default: true)
	LogRetries bool          `koanf:"log_retries"` // Whether to log retry attempts (default: true)

	// ShouldRetry decides whether a failed attempt is worth repeating. nil retries everything.
	ShouldRetry func(error) bool `koanf:"-"`
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
	RetryReasons  []string      `json:"retry_reasons"`  // Reasons for each failed attempt
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// HostRetryConfig returns the configuration used for idempotent host API reads
func HostRetryConfig() RetryConfig {
	c := DefaultRetryConfig()
	c.MaxRetries = 2
	c.BaseDelay = 500 * time.Millisecond
	c.MaxDelay = 10 * time.Second
	c.ShouldRetry = IsRetryableError
	return c
}

// LLMRetryConfig returns a retry configuration for completion requests. Malformed output is
// never retried, only transport failures.
func LLMRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BaseDelay:   2 * time.Second,  // LLM requests can be slower
		MaxDelay:    60 * time.Second, // Allow longer max delay for LLM
		Multiplier:  2.5,
		Jitter:      true,
		LogRetries:  true,
		ShouldRetry: IsRetryableError,
	}
}

// RetryWithBackoff executes an operation with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) RetryResult {
	return RetryWithBackoffAndReason(ctx, config, func() (error, string) {
		err := operation()
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return err, reason
	}, logger)
}

// RetryWithBackoffAndReason executes an operation with exponential backoff retry logic and custom reason tracking
func RetryWithBackoffAndReason(ctx context.Context, config RetryConfig, operation func() (error, string), logger *zerolog.Logger) RetryResult {
	startTime := time.Now()
	if logger == nil || !config.LogRetries {
		nop := zerolog.Nop()
		logger = &nop
	}

	result := RetryResult{
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err, reason := operation()
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 0 {
				logger.Debug().Int("retries", attempt).Dur("duration", result.TotalDuration).Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		if attempt >= config.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			logger.Warn().Err(err).Int("attempts", result.Attempts).Dur("duration", result.TotalDuration).Msg("Operation failed after all attempts")
			return result
		}

		if config.ShouldRetry != nil && !config.ShouldRetry(err) {
			result.TotalDuration = time.Since(startTime)
			logger.Debug().Err(err).Msg("Operation failed with non-retryable error")
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		logger.Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("delay", delay).
			Msg("Operation failed, retrying")

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	// This should never be reached due to the loop logic above
	result.TotalDuration = time.Since(startTime)
	return result
}

// Do runs operation with retries and returns its value or the last error
func Do[T any](ctx context.Context, config RetryConfig, logger *zerolog.Logger, operation func() (T, error)) (T, error) {
	var value T
	result := RetryWithBackoff(ctx, config, func() error {
		v, err := operation()
		if err != nil {
			return err
		}
		value = v
		return nil
	}, logger)
	if !result.Success {
		var zero T
		return zero, result.LastError
	}
	return value, nil
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// up to 10% either way
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is retryable. Errors that carry a pipeline kind which
// is never transient (conflicts, malformed output, configuration) are not retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	for _, final := range []error{
		models.ErrRefUpdateConflict,
		models.ErrMalformedModelOutput,
		models.ErrConfig,
		models.ErrUnsafeContent,
		context.Canceled,
	} {
		if errors.Is(err, final) {
			return false
		}
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"secondary rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"unexpected eof",
		"context deadline exceeded",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
