package annotate

import (
	"context"
	"math"
	"time"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// RetryConfig holds retry configuration for annotation units.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 4 * time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// calculateBackoff returns the exponential backoff for an attempt, capped at
// the configured maximum.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// retryable reports whether an attempt failure is worth retrying: transient
// API failures and whole-batch validation failures are; fatal ones are not.
func retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindAnnotationTransient, domain.KindValidation:
		return true
	default:
		return false
	}
}

// withRetry runs attempt until it succeeds, fails fatally, or exhausts
// retries. Exhaustion converts the last error into an AnnotationFatalError
// scoped to the unit. The wait between attempts honors ctx cancellation.
func (o *Orchestrator) withRetry(ctx context.Context, unit string, attempt func() error) error {
	var lastErr error

	for n := 0; n <= o.retry.MaxRetries; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := attempt()
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}
		lastErr = err

		if n == o.retry.MaxRetries {
			break
		}

		backoff := calculateBackoff(n, o.retry)
		o.log.Warn().
			Str("unit", unit).
			Int("attempt", n+1).
			Int("max_retries", o.retry.MaxRetries).
			Dur("backoff", backoff).
			Err(err).
			Msg("annotation attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return domain.AnnotationFatalError(unit, "retries exhausted", lastErr)
}
