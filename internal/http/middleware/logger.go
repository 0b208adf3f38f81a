package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", redactedPath(c),
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}

// redactedPath is the request path with query, with webhook secrets in the
// path or the query string replaced.
func redactedPath(c *gin.Context) string {
	path := c.Request.URL.Path
	if s := c.Param(secretParam); s != "" {
		path = strings.Replace(path, s, "redacted", 1)
	}

	raw := c.Request.URL.RawQuery
	if raw == "" {
		return path
	}
	query := c.Request.URL.Query()
	if query.Has(secretParam) {
		query.Set(secretParam, "redacted")
		raw = query.Encode()
	}
	return path + "?" + raw
}
