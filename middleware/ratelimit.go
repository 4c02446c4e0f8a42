package middleware

import (
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimit allows limit requests per client IP in each window. With a
// Redis client the counters are shared between instances.
func RateLimit(rdb *redis.Client, window time.Duration, limit uint) gin.HandlerFunc {
	var store ratelimit.Store
	if rdb != nil {
		store = ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: rdb,
			Rate:        window,
			Limit:       limit,
		})
	} else {
		store = ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
			Rate:  window,
			Limit: limit,
		})
	}
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: tooManyRequests,
		KeyFunc:      clientKey,
	})
}

func clientKey(c *gin.Context) string {
	return c.ClientIP()
}

func tooManyRequests(c *gin.Context, info ratelimit.Info) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success":    false,
		"error":      "Too many requests",
		"retryAfter": time.Until(info.ResetTime).Round(time.Second).String(),
	})
}
