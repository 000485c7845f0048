package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginChecker 判断来源是否在白名单内，白名单为空时全部放行
type OriginChecker struct {
	origins map[string]struct{}
}

func NewOriginChecker(allowed []string) *OriginChecker {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins[strings.ToLower(o)] = struct{}{}
		}
	}
	return &OriginChecker{origins: origins}
}

func (s *OriginChecker) Allowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	_, ok := s.origins[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

// CheckRequest 供 WebSocket 握手使用；非浏览器客户端不带 Origin
func (s *OriginChecker) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.Allowed(origin)
}

// CORSMiddleware 处理私信接口的跨域请求
func CORSMiddleware(checker *OriginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			if !checker.Allowed(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Trace-Id")
			c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, X-Trace-Id")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "600")
		}

		// 预检请求
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
