package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/pkg/logger"
)

// Logging пишет одну строку на запрос. Уровень зависит от HTTP статуса.
// Ставится после Tracing, чтобы в строке были trace_id и correlation_id.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := logger.FromContext(c.Request.Context())
		status := c.Writer.Status()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Запрос завершён")
	}
}
