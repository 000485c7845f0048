package middleware

import (
	"Patronage/internal/pkg/consts"
	"bytes"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

const maxAuditBodyBytes = 4096

// 私信正文与附件不落日志
var redactedFields = map[string]struct{}{
	"content":     {},
	"attachments": {},
	"preview":     {},
	"messages":    {},
	"list":        {},
}

type countingWriter struct {
	gin.ResponseWriter
	size int
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *countingWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.size += n
	return n, err
}

// redactBody 将 JSON 中的敏感字段替换为长度描述，非 JSON 只记录大小
func redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Sprintf("[non-json %d bytes]", len(body))
	}
	out, err := json.Marshal(redactValue(payload))
	if err != nil {
		return fmt.Sprintf("[%d bytes]", len(body))
	}
	if len(out) > maxAuditBodyBytes {
		return string(out[:maxAuditBodyBytes]) + "...[truncated]"
	}
	return string(out)
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if _, ok := redactedFields[strings.ToLower(k)]; ok {
				val[k] = redactedMarker(inner)
				continue
			}
			val[k] = redactValue(inner)
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	}
	return v
}

func redactedMarker(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("[redacted len=%d]", len([]rune(val)))
	case []any:
		return fmt.Sprintf("[redacted items=%d]", len(val))
	}
	return "[redacted]"
}

// AuditMiddleware 记录私信接口的请求与响应概要
func AuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// WebSocket 握手交由连接自身记录
		if c.IsWebsocket() {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		}

		log.InfoContext(ctx, "Recv Request",
			log.String("method", c.Request.Method),
			log.String("path", c.FullPath()),
			log.String("query", c.Request.URL.RawQuery),
			log.String("req_body", redactBody(reqBody)),
		)

		w := &countingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		startTime := time.Now()

		c.Next()

		fields := []any{
			log.Int("status", c.Writer.Status()),
			log.Duration("latency", time.Since(startTime)),
			log.Int("res_size", w.size),
		}
		if uid, ok := c.Get(consts.UserIDKey); ok {
			fields = append(fields, log.Any("user_id", uid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, log.String("errors", c.Errors.String()))
		}
		log.InfoContext(ctx, "Send Response", fields...)
	}
}
