package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	bucketSweepInterval = 3 * time.Minute
	bucketIdleTTL       = 5 * time.Minute
)

// clientBucket is one IP's token bucket plus the last time it was hit,
// so idle entries can be swept.
type clientBucket struct {
	limiter *rate.Limiter
	seenAt  time.Time
}

// RateLimiter throttles requests per client IP. It guards the
// credential endpoints (register, login) against brute-force attempts;
// authenticated traffic is not limited.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

// NewRateLimiter allows rps sustained requests per second per IP with
// the given burst headroom, and starts the idle-bucket sweeper.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) bucket(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.seenAt = time.Now()
	return b.limiter
}

// sweep drops buckets for IPs not seen within bucketIdleTTL so the map
// stays bounded on long-running processes.
func (rl *RateLimiter) sweep() {
	for {
		time.Sleep(bucketSweepInterval)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if time.Since(b.seenAt) > bucketIdleTTL {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects over-limit requests with 429 and the standard
// response envelope.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.bucket(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests, slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
