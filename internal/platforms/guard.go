package platforms

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// maxAttempts is the first try plus one retry. Every attempt is billed.
const maxAttempts = 2

// guard wraps provider calls with client-side rate limiting and a single
// retry on retryable failures.
type guard struct {
	platform models.PlatformID
	limiter  *rate.Limiter
	backoff  time.Duration
}

func newGuard(platform models.PlatformID, opts Options) *guard {
	limit := rate.Inf
	if opts.RPM > 0 {
		limit = rate.Limit(float64(opts.RPM) / 60.0)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &guard{
		platform: platform,
		limiter:  rate.NewLimiter(limit, burst),
		backoff:  opts.RetryBackoff,
	}
}

// do runs fn at most maxAttempts times. Context cancellation stops retries.
func (g *guard) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			// Wait fails fast when the reservation would outlive the deadline.
			return &ProviderError{
				Platform:  g.platform,
				Kind:      KindRateLimited,
				Message:   "client-side rate limit exceeded",
				Cause:     err,
				Retryable: false,
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil || !isRetryable(lastErr) || attempt == maxAttempts {
			break
		}

		logrus.WithFields(logrus.Fields{
			"platform": g.platform,
			"attempt":  attempt,
		}).Debugf("Retrying provider call after %v: %v", g.backoff, lastErr)

		timer := time.NewTimer(g.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}
