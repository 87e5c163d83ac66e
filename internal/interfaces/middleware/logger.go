package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request. Server errors are logged at warn.
func RequestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.EscapedPath(),
			"status", status,
			"latency", time.Since(start),
		}
		if status >= 500 {
			logger.Warnw("Request", fields...)
			return
		}
		logger.Debugw("Request", fields...)
	}
}
