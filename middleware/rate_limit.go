package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// requestWindow tracks requests from one IP within the current window
type requestWindow struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter applies a per-IP sliding window request cap. The search
// endpoint proxies a rate-limited upstream, so callers get throttled
// before the upstream does it for us.
type RateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*requestWindow
	maxRequests  int
	windowPeriod time.Duration
}

// NewRateLimiter creates a new rate limiter
// maxRequests: maximum requests allowed within the window
// windowPeriod: time window for counting requests
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows:      make(map[string]*requestWindow),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
	go rl.startCleanup()
	return rl
}

// startCleanup periodically cleans up old entries
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

// cleanup removes expired entries
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, window := range rl.windows {
		if now.Sub(window.FirstAt) > rl.windowPeriod {
			delete(rl.windows, ip)
		}
	}
}

// Allow reports whether a request from the IP may proceed, along with
// the remaining budget and the wait time when it may not.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window, exists := rl.windows[ip]

	if !exists || now.Sub(window.FirstAt) > rl.windowPeriod {
		rl.windows[ip] = &requestWindow{Count: 1, FirstAt: now}
		return true, rl.maxRequests - 1, 0
	}

	if window.Count >= rl.maxRequests {
		return false, 0, rl.windowPeriod - now.Sub(window.FirstAt)
	}

	window.Count++
	return true, rl.maxRequests - window.Count, 0
}

// RateLimitMiddleware creates a middleware enforcing the limiter
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, remaining, retryAfter := rl.Allow(ip)

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Too many requests. Please try again in %d second(s).", int(retryAfter.Seconds())),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
