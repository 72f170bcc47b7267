package middleware

import (
	"time"

	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/shared/id"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, reusing a client-supplied one,
// and logs the request once it completes.
func RequestID(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = id.NewRequestID().String()
		}
		c.Set("request_id", rid)
		c.Header(RequestIDHeader, rid)

		start := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("request_id", rid),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
