package extract

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// caller rate limits model requests and retries transient failures.
type caller struct {
	limiter    *rate.Limiter
	maxRetries int
	initial    time.Duration
	logger     zerolog.Logger
}

func newCaller(cfg Config, logger zerolog.Logger) *caller {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	initial := cfg.RetryInitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	return &caller{
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		initial:    initial,
		logger:     logger,
	}
}

// do runs op until it succeeds, returns a permanent error, or retries run out.
func (c *caller) do(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initial
	eb.Multiplier = 2.0
	eb.MaxInterval = 30 * time.Second
	eb.RandomizationFactor = 0.2
	eb.Reset()

	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("model request failed")
		}
		return err
	}

	retries := c.maxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx))
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
