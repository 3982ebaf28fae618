package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDKey    = "trace_id"
	TraceIDHeader = "X-Trace-ID"
)

// maxTraceIDLen bounds client-supplied ids before they reach logs.
const maxTraceIDLen = 64

type traceCtxKey struct{}

// TraceID tags each request with an id taken from X-Trace-ID or a new UUID.
// The id is echoed in the response and carried on the request context.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), traceCtxKey{}, traceID))
		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the Gin context.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// TraceIDFromContext returns the trace id stored by TraceID, if any.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceCtxKey{}).(string)
	return id
}
