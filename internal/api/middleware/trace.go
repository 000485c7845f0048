package middleware

import (
	"Patronage/internal/pkg/logger"
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceHeader     = "X-Trace-ID"
	traceQuery      = "trace_id"
	maxTraceIDBytes = 64
)

// TraceMiddleware 为请求分配 trace_id
// 浏览器 WebSocket 无法自定义请求头，允许通过 query 透传
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = c.Query(traceQuery)
		}
		if traceID == "" || len(traceID) > maxTraceIDBytes {
			traceID = uuid.New().String()
		}

		c.Set(logger.TraceIDKey, traceID)
		ctx := context.WithValue(c.Request.Context(), logger.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(traceHeader, traceID)
		c.Next()
	}
}
