package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"tournament-rewards/pkg/logger"
)

// Config defines retry behavior
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// DefaultConfig suits short chain reads: a handful of attempts inside a
// few seconds so a settlement request does not hang on a dead node.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// WithBackoff executes fn with exponential backoff and optional jitter.
// Returning a *Permanent from fn stops retrying and yields the wrapped error.
func WithBackoff(ctx context.Context, cfg Config, operation string, fn func() error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"operation": operation,
					"attempts":  attempt,
				}).Info("Operation succeeded after retries")
			}
			return nil
		}

		var p *Permanent
		if errors.As(lastErr, &p) {
			return p.Err
		}

		if attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := calculateBackoff(cfg, attempt)

		logger.WithFields(map[string]interface{}{
			"operation":   operation,
			"attempt":     attempt,
			"max_retries": cfg.MaxRetries,
			"retry_in":    delay.String(),
			"error":       lastErr.Error(),
		}).Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// Add jitter to prevent thundering herd
	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
