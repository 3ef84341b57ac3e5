package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// HTTPRecorder receives per-request metrics.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, statusCode int, duration float64, size int64)
	RecordHTTPRequestError(method, path, errorType string)
}

// NewMetrics records request counts, latency and response size keyed by
// the route template, so /transformers/:id is one series.
func NewMetrics(rec HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rec == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if ok := asHTTPError(err, &he); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			rec.RecordHTTPRequest(method, path, status, time.Since(start).Seconds(), c.Response().Size)
			if status >= http.StatusBadRequest {
				rec.RecordHTTPRequestError(method, path, strconv.Itoa(status))
			}
			return err
		}
	}
}

func asHTTPError(err error, target **echo.HTTPError) bool {
	he, ok := err.(*echo.HTTPError)
	if ok {
		*target = he
	}
	return ok
}
