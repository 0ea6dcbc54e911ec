package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"tiketku/internal/logger"
)

// Limiter is a fixed-window counter backed by Redis. If Redis is down the
// limiter fails open: availability over strictness.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    *logger.Logger
}

func New(rdb *redis.Client, limit int, window time.Duration, log *logger.Logger) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, log: log}
}

// Allow increments the counter for the key's current window and reports
// whether the request is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	window := time.Now().Unix() / int64(l.window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		if l.log != nil {
			l.log.Warn("RATELIMIT", fmt.Sprintf("redis unavailable, allowing request: %v", err))
		}
		return true
	}
	if count == 1 {
		l.rdb.Expire(ctx, redisKey, l.window)
	}
	return count <= int64(l.limit)
}

// Middleware limits per client IP on chi routes.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientIP(r)) {
			l.log.LogSecurity("RATELIMIT", fmt.Sprintf("rate limit exceeded for %s", clientIP(r)))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GinMiddleware limits per client IP on gin routes.
func (l *Limiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), c.ClientIP()) {
			l.log.LogSecurity("RATELIMIT", fmt.Sprintf("rate limit exceeded for %s", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
