// ratelimit.go - Per-caller token buckets for operation submission.

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// tokenBucket refills refillRate tokens every refillPeriod, up to maxTokens.
type tokenBucket struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	lastRefill   time.Time
}

func newTokenBucket(maxTokens, refillRate int, refillPeriod time.Duration, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		lastRefill:   now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if periods := int(now.Sub(b.lastRefill) / b.refillPeriod); periods > 0 {
		b.tokens += periods * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.refillPeriod)
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// CallerRateLimiter keeps one bucket per caller identity.
type CallerRateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*tokenBucket
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewCallerRateLimiter returns a limiter. A non-positive maxTokens disables limiting.
func NewCallerRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *CallerRateLimiter {
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	return &CallerRateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow consumes a token of caller if one is available.
func (l *CallerRateLimiter) Allow(caller string) bool {
	if l.maxTokens <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[caller]
	if !ok {
		b = newTokenBucket(l.maxTokens, l.refillRate, l.refillPeriod, now)
		l.buckets[caller] = b
	}
	l.mu.Unlock()
	return b.allow(now)
}

// Reset forgets every bucket.
func (l *CallerRateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*tokenBucket)
}

// Middleware rejects requests over the caller's budget with 429. Requests without a
// caller header are keyed by client IP.
func (l *CallerRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(CallerHeader)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error:  "rate_limited",
				Reason: "too many requests",
			})
			return
		}
		c.Next()
	}
}
