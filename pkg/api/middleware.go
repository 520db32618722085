package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/grovehq/grove/pkg/metrics"
)

// observe records per-request metrics and an access log line.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		method := c.Request.Method
		status := c.Writer.Status()
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)

		event := s.logger.Debug()
		if status >= 500 {
			event = s.logger.Error()
		} else if status >= 400 {
			event = s.logger.Warn()
		}
		event.
			Str("method", method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Msg("Request handled")
	}
}
