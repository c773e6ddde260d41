package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nimburion/dlqmanager/pkg/observability/logger"
)

// CodeRateLimited is returned when a client exceeds the /dlqs rate limit.
const CodeRateLimited = "rate_limited"

// tokenBucketLimiter keeps one token bucket per client key.
type tokenBucketLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newTokenBucketLimiter(requestsPerSecond float64, burst int) *tokenBucketLimiter {
	return &tokenBucketLimiter{rate: rate.Limit(requestsPerSecond), burst: burst}
}

// Allow reports whether a request for key fits within its bucket.
func (l *tokenBucketLimiter) Allow(key string) bool {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter).Allow()
	}
	limiter, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return limiter.(*rate.Limiter).Allow()
}

// rateLimit rejects requests beyond the client's budget with 429 and Retry-After.
// Listing hits the backend on every call, so the whole /dlqs group is covered.
func rateLimit(limiter *tokenBucketLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error:     "too_many_requests",
			Code:      CodeRateLimited,
			Message:   "rate limit exceeded",
			RequestID: logger.RequestIDFromContext(c.Request.Context()),
		})
	}
}
