package middleware

import (
	"codesandbox/pkg/errors"
	"codesandbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request rate and the number of judgments in flight.
type RateLimitConfig struct {
	RPS           float64
	Burst         int
	MaxConcurrent int64
}

// Limiter combines a token bucket with a concurrency cap.
type Limiter struct {
	bucket *rate.Limiter
	slots  *semaphore.Weighted
}

// NewLimiter builds a limiter; zero values disable the matching check.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	l := &Limiter{}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RPS) * 2
			if burst < 1 {
				burst = 1
			}
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	if cfg.MaxConcurrent > 0 {
		l.slots = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return l
}

// Acquire reports whether the request may proceed. A true result must be paired with Release.
func (l *Limiter) Acquire() bool {
	if l.bucket != nil && !l.bucket.Allow() {
		return false
	}
	if l.slots != nil && !l.slots.TryAcquire(1) {
		return false
	}
	return true
}

// Release frees the concurrency slot taken by Acquire.
func (l *Limiter) Release() {
	if l.slots != nil {
		l.slots.Release(1)
	}
}

// RateLimitMiddleware answers 429 when the limiter refuses the request.
func RateLimitMiddleware(l *Limiter, onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Acquire() {
			if onReject != nil {
				onReject()
			}
			response.AbortWithErrorCode(c, errors.TooManyRequests, "")
			return
		}
		defer l.Release()
		c.Next()
	}
}
