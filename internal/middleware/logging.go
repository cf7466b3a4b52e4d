package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/metrics"
)

// Logger middleware logs request details through the structured logger
func Logger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.LogHTTPRequest(
			c.Request.Method,
			path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// Metrics middleware records Prometheus request counters and latencies
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		c.Next()

		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}
