package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimit applies a token bucket of r events per second with burst b to
// each caller. Authenticated callers are keyed by account, others by IP, so
// it should run after Auth on protected groups. Idle buckets are dropped
// until ctx is cancelled.
func RateLimit(ctx context.Context, r rate.Limit, b int) gin.HandlerFunc {
	buckets := &sync.Map{}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				cutoff := now.Add(-10 * time.Minute)
				buckets.Range(func(k, v interface{}) bool {
					bk := v.(*bucket)
					bk.mu.Lock()
					stale := bk.lastSeen.Before(cutoff)
					bk.mu.Unlock()
					if stale {
						buckets.Delete(k)
					}
					return true
				})
			}
		}
	}()

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := GetAccountID(c); id != 0 {
			key = "acct:" + strconv.FormatInt(id, 10)
		}
		v, _ := buckets.LoadOrStore(key, &bucket{limiter: rate.NewLimiter(r, b)})
		bk := v.(*bucket)
		bk.mu.Lock()
		bk.lastSeen = time.Now()
		bk.mu.Unlock()

		if !bk.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
