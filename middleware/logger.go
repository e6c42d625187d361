package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger создаёт middleware для логирования HTTP запросов
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Время начала запроса
		startTime := time.Now()

		// Обрабатываем запрос
		c.Next()

		// Апгрейд WebSocket живет дольше запроса, его не логируем
		if c.IsWebsocket() {
			return
		}

		latency := time.Since(startTime)

		log.Printf("[HTTP] %3d | %13v | %15s | %-7s %s",
			c.Writer.Status(),
			latency,
			c.ClientIP(),
			c.Request.Method,
			c.Request.RequestURI,
		)
	}
}
