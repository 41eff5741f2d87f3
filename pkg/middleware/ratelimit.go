package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/fulfillment/pkg/logger"
)

// fixedWindow увеличивает счётчик окна и ставит TTL на первом запросе.
var fixedWindow = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitConfig — лимит запросов к HTTP API сервиса.
type RateLimitConfig struct {
	// Prefix отделяет счётчики разных сервисов в общем Redis.
	Prefix string
	Limit  int
	Window time.Duration
}

// RateLimit ограничивает число запросов с одного IP за окно Window.
// Счётчики живут в Redis, поэтому лимит общий для всех реплик сервиса.
// Если Redis недоступен, запрос пропускается.
func RateLimit(rdb *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window < time.Second {
		cfg.Window = time.Minute
	}
	windowSec := int(cfg.Window.Seconds())

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "rate:" + cfg.Prefix + ":" + c.ClientIP()

		count, err := fixedWindow.Run(ctx, rdb, []string{key}, windowSec).Int()
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := max(cfg.Limit-count, 0)
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > cfg.Limit {
			logger.Ctx(ctx).Warn().
				Str("client_ip", c.ClientIP()).
				Int("limit", cfg.Limit).
				Msg("Rate limit превышен")

			c.Header("Retry-After", strconv.Itoa(windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Превышен лимит запросов. Попробуйте через " + strconv.Itoa(windowSec) + " секунд",
			})
			return
		}

		c.Next()
	}
}
