package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vantu-dev/pairlink/internal/application/metric"
)

// Prometheus records per-endpoint request counts and latency. The route
// template, not the raw URI, labels the series to keep cardinality bounded.
func Prometheus() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			if err != nil && status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}

			metric.RecordHTTPRequest(c.Request().Method, c.Path(), status, time.Since(start))

			return err
		}
	}
}
