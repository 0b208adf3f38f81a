package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"agenthub.app/bridge/common/id"
	"agenthub.app/bridge/common/logger"
)

const (
	DefaultTraceHeader = "X-Trace-Id"
	traceIDKey         = "trace_id"
)

// Trace resolves the request's trace id from the header, the active span or
// a fresh snowflake id, in that order. The id is echoed in the response and
// attached to the log context.
func Trace(header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultTraceHeader
	}
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(header))
		if traceID == "" {
			if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}
		}
		if traceID == "" {
			traceID = id.NewString()
		}

		c.Set(traceIDKey, traceID)
		c.Header(header, traceID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{TraceID: &traceID})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TraceID returns the id set by Trace, or "" when the middleware did not run.
func TraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
