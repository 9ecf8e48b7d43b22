// rate_limiter.go - Rate limiting for the pool daemon API
package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Refill whole periods only, carrying the remainder forward
	now := rl.now()
	periods := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if periods > 0 {
		rl.tokens += periods * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.refillPeriod)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// GetTokens returns the current number of available tokens
func (rl *RateLimiter) GetTokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// idle reports whether the bucket has not refilled for at least d.
func (rl *RateLimiter) idle(d time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.now().Sub(rl.lastRefill) >= d
}

// ClientRateLimiter keeps one bucket per client address
type ClientRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewClientRateLimiter creates a new per-client rate limiter
func NewClientRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow checks if a request from a client is allowed
func (crl *ClientRateLimiter) Allow(clientID string) bool {
	crl.mu.Lock()
	limiter, exists := crl.limiters[clientID]
	if !exists {
		limiter = newRateLimiter(crl.maxTokens, crl.refillRate, crl.refillPeriod, crl.now)
		crl.limiters[clientID] = limiter
	}
	crl.mu.Unlock()

	return limiter.Allow()
}

// Prune drops buckets unused for longer than d and returns how many went.
func (crl *ClientRateLimiter) Prune(d time.Duration) int {
	crl.mu.Lock()
	defer crl.mu.Unlock()
	n := 0
	for id, l := range crl.limiters {
		if l.idle(d) {
			delete(crl.limiters, id)
			n++
		}
	}
	return n
}

// Middleware rejects over-limit clients with 429.
func (crl *ClientRateLimiter) Middleware(metrics *MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !crl.Allow(c.ClientIP()) {
			if metrics != nil {
				metrics.IncrementCounter(MetricRateLimited, nil)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error: errorDetail{Code: codeRateLimited, Message: "request rate limit exceeded"},
			})
			return
		}
		c.Next()
	}
}
