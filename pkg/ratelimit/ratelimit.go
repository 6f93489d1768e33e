// Package ratelimit paces outbound calls to the upstream representative APIs.
// A Gate is consulted before every request; gates compose with Chain.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Gate blocks until the caller may issue one request
type Gate interface {
	Wait(ctx context.Context) error
}

// Throttler is a Gate that can be told to back off, typically after a 429
type Throttler interface {
	Gate
	Throttle(ctx context.Context, d time.Duration)
}

// TokenBucket is an in-process requests-per-second limiter
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a token bucket. rps <= 0 disables limiting.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Quota is a shared sliding-window limit stored in Redis, e.g. a daily API key quota
type Quota struct {
	limiter *redis.RateLimiter
	key     string
	limit   int64
	window  time.Duration
	maxWait time.Duration
	logger  ectologger.Logger
}

// QuotaConfig configures a Quota
type QuotaConfig struct {
	Key     string
	Limit   int64
	Window  time.Duration
	MaxWait time.Duration
}

// NewQuota creates a Redis-backed quota gate
func NewQuota(limiter *redis.RateLimiter, cfg QuotaConfig, logger ectologger.Logger) *Quota {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Minute
	}
	return &Quota{
		limiter: limiter,
		key:     cfg.Key,
		limit:   cfg.Limit,
		window:  cfg.Window,
		maxWait: cfg.MaxWait,
		logger:  logger,
	}
}

// Wait blocks until the quota admits one request or maxWait passes.
// Redis errors fail open so a cache outage never stops ingestion.
func (q *Quota) Wait(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "Quota.Wait")
	defer span.End()

	deadline := time.Now().Add(q.maxWait)
	for {
		result, err := q.limiter.Allow(ctx, q.key, q.limit, q.window)
		if err != nil {
			q.logger.WithContext(ctx).WithError(err).Warnf("Quota check failed for %s, allowing request", q.key)
			return nil
		}
		if result.Allowed {
			return nil
		}

		wait := result.RetryIn
		if wait <= 0 {
			wait = 200 * time.Millisecond
		}
		if time.Now().Add(wait).After(deadline) {
			return &ExceededError{Key: q.key, RetryAfter: wait}
		}

		q.logger.WithContext(ctx).Debugf("Quota %s exhausted, waiting %v", q.key, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Throttle blocks the quota key for d across every process sharing it
func (q *Quota) Throttle(ctx context.Context, d time.Duration) {
	if err := q.limiter.BlockFor(ctx, q.key, d); err != nil {
		q.logger.WithContext(ctx).WithError(err).Warnf("Failed to block quota %s", q.key)
	}
}

// ExceededError is returned when a quota stays exhausted past the allowed wait
type ExceededError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return "rate limit exceeded for " + e.Key + ", retry in " + e.RetryAfter.String()
}

type chain []Gate

// Chain returns a Gate that waits on every non-nil gate in order
func Chain(gates ...Gate) Gate {
	c := make(chain, 0, len(gates))
	for _, g := range gates {
		if g != nil {
			c = append(c, g)
		}
	}
	return c
}

func (c chain) Wait(ctx context.Context) error {
	for _, g := range c {
		if err := g.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) Throttle(ctx context.Context, d time.Duration) {
	for _, g := range c {
		if t, ok := g.(Throttler); ok {
			t.Throttle(ctx, d)
		}
	}
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
