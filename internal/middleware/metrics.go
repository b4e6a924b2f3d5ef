package middleware

import (
	"strconv"
	"time"

	"checkout-payments/internal/metrics"

	"github.com/labstack/echo/v4"
)

// MetricsMiddleware records request counts and latency by route pattern.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			m.ObserveHTTP(c.Request().Method, endpoint, strconv.Itoa(c.Response().Status), time.Since(start))
			return nil
		}
	}
}
