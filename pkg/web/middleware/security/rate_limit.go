package security

import (
	"sync"
	"time"

	"github.com/fluxorio/pongworker/pkg/web"
)

// RateLimitConfig configures rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client
	RequestsPerMinute int

	// RequestsPerSecond is an alternative to RequestsPerMinute
	RequestsPerSecond int

	// Burst is the bucket size (default: the per-minute rate / 6, at least 1)
	Burst int

	// KeyFunc extracts a key from the request to identify the client
	// Default: uses IP address
	KeyFunc func(ctx *web.FastRequestContext) string

	// OnLimitReached is called when rate limit is exceeded
	// If nil, returns 429 Too Many Requests
	OnLimitReached func(ctx *web.FastRequestContext) error
}

// DefaultRateLimitConfig returns a default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		KeyFunc: func(ctx *web.FastRequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		},
	}
}

// idleBucketTTL is how long an untouched full bucket is kept.
const idleBucketTTL = 10 * time.Minute

// rateLimiter is a token bucket per key.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	rate      float64 // tokens per second
	burst     float64
	lastPrune time.Time
	now       func() time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets:   make(map[string]*tokenBucket),
		rate:      perSecond,
		burst:     float64(burst),
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > idleBucketTTL {
		rl.prune(now)
	}

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.burst, last: now}
		rl.buckets[key] = bucket
	}

	bucket.tokens += now.Sub(bucket.last).Seconds() * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.last = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

func (rl *rateLimiter) prune(now time.Time) {
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.last) > idleBucketTTL {
			delete(rl.buckets, key)
		}
	}
	rl.lastPrune = now
}

// RateLimit middleware enforces rate limiting
func RateLimit(config RateLimitConfig) web.FastMiddleware {
	perMinute := config.RequestsPerMinute
	if perMinute == 0 && config.RequestsPerSecond > 0 {
		perMinute = config.RequestsPerSecond * 60
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := config.Burst
	if burst <= 0 {
		burst = perMinute / 6
	}
	if burst < 1 {
		burst = 1
	}

	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(ctx *web.FastRequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		}
	}

	limiter := newRateLimiter(float64(perMinute)/60, burst)

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if !limiter.allow(keyFunc(ctx)) {
				if config.OnLimitReached != nil {
					return config.OnLimitReached(ctx)
				}
				ctx.RequestCtx.Response.Header.Set("Retry-After", "1")
				return ctx.JSON(429, map[string]string{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests",
				})
			}
			return next(ctx)
		}
	}
}
