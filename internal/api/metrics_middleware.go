package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/metrics"
)

// MetricsMiddleware records request counts and latency per route template.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordAPIRequest(c.Request().Method, route, c.Response().Status, time.Since(start))
			return nil
		}
	}
}
