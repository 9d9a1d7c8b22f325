package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/real-rm/livechat/internal/constants"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// retryConfig holds configuration for MongoDB retry logic
type retryConfig struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

// defaultRetryConfig provides default retry configuration
var defaultRetryConfig = retryConfig{
	maxAttempts:  constants.MaxRetryAttempts,
	initialDelay: constants.InitialRetryDelay,
	maxDelay:     constants.MaxRetryDelay,
	multiplier:   constants.RetryMultiplier,
}

// isRetryableError reports whether err is a transient network or server-selection failure
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"server selection timeout",
		"no reachable servers",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryOperation executes fn, retrying transient errors with exponential backoff
func retryOperation(ctx context.Context, logger *zap.SugaredLogger, cfg retryConfig, operation string, fn func() error) error {
	var lastErr error
	delay := cfg.initialDelay

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		// No else needed: early return pattern (guard clause - non-retryable error)
		if !isRetryableError(err) {
			return err
		}
		lastErr = err

		if attempt < cfg.maxAttempts {
			logger.Warnw("MongoDB operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", cfg.maxAttempts,
				"delay", delay,
				"error", err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
			}

			delay = time.Duration(float64(delay) * cfg.multiplier)
			if delay > cfg.maxDelay {
				delay = cfg.maxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.maxAttempts, lastErr)
}
