package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/throwlytics/backend/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UploadLimiter hands out one token bucket per authenticated user.
type UploadLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

// NewUploadLimiter allows perMinute uploads per user with the given burst. perMinute <= 0 disables limiting.
func NewUploadLimiter(perMinute, burst int) *UploadLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := rate.Inf
	if perMinute > 0 {
		l = rate.Limit(float64(perMinute) / 60.0)
	}
	return &UploadLimiter{
		visitors: make(map[string]*visitor),
		limit:    l,
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

func (u *UploadLimiter) get(key string) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(u.limit, u.burst)}
		u.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops buckets idle for longer than the TTL.
func (u *UploadLimiter) Cleanup() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for k, v := range u.visitors {
		if time.Since(v.lastSeen) > u.ttl {
			delete(u.visitors, k)
		}
	}
}

// RunCleanup calls Cleanup every interval until done is closed.
func (u *UploadLimiter) RunCleanup(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			u.Cleanup()
		}
	}
}

// Middleware limits by user ID, falling back to client IP when unauthenticated.
func (u *UploadLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if id, ok := UserID(c); ok {
			key = id.String()
		}
		if !u.get(key).Allow() {
			response.TooManyRequests(c, 60, "upload rate limit exceeded, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
