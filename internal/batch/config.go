package batch

import (
	"time"
)

// Config holds configuration for the worker pool
type Config struct {
	MaxWorkers int           // Maximum number of concurrent workers
	MaxRetries int           // Maximum number of retries for a failed task
	RetryDelay time.Duration // Delay between retries
}

// DefaultConfig returns a default configuration. Host APIs rate limit aggressively, so the
// default concurrency is deliberately small.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
		MaxRetries: 0,
		RetryDelay: 2 * time.Second,
	}
}

// ConfigFromMap creates a Config from a map (typically from TOML config)
func ConfigFromMap(configMap map[string]interface{}) Config {
	config := DefaultConfig()

	if maxWorkers, ok := intValue(configMap["max_workers"]); ok && maxWorkers > 0 {
		config.MaxWorkers = maxWorkers
	}
	if maxRetries, ok := intValue(configMap["max_retries"]); ok && maxRetries >= 0 {
		config.MaxRetries = maxRetries
	}
	if retryDelayMs, ok := intValue(configMap["retry_delay_ms"]); ok && retryDelayMs > 0 {
		config.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	}

	return config
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
