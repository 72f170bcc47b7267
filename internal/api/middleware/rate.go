package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL drops a client's limiter after this long without requests.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	var (
		clients   = xsync.NewMap[string, *client]()
		lastSweep atomic.Int64
	)

	return func(c *gin.Context) {
		now := time.Now()
		cl, _ := clients.LoadOrCompute(c.ClientIP(), func() (*client, bool) {
			return &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}, false
		})
		cl.lastSeen.Store(now.UnixNano())

		if last := lastSweep.Load(); now.UnixNano()-last > int64(cfg.IdleTTL) && lastSweep.CompareAndSwap(last, now.UnixNano()) {
			cutoff := now.Add(-cfg.IdleTTL).UnixNano()
			clients.Range(func(ip string, cl *client) bool {
				if cl.lastSeen.Load() < cutoff {
					clients.Delete(ip)
				}
				return true
			})
		}

		if !cl.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
