package middleware

import (
	"Patronage/internal/pkg/consts"
	"Patronage/internal/pkg/redis"
	"Patronage/internal/pkg/response"
	"Patronage/internal/pkg/security"
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errTokenMalformed = errors.New("Token 缺失或格式错误")
	errTokenInvalid   = errors.New("Token 无效或已被注销")
	errTokenExpired   = errors.New("Token 已过期，请重新登录")
)

// Authenticate 校验 Token 是否被注销并解析出用户身份
// 返回的 code 用于直接响应客户端
func Authenticate(ctx context.Context, tokenString string) (*security.UserClaims, int, error) {
	signature, err := security.ExtractSignature(tokenString)
	if err != nil {
		return nil, response.Unauthorized, errTokenMalformed
	}

	// 已注销的 Token 签名由用户服务写入 Redis
	value, err := redis.GetValue(ctx, signature)
	if err != nil {
		return nil, response.InternalServerError, errors.New("未知错误")
	}
	if value != "" {
		return nil, response.Unauthorized, errTokenInvalid
	}

	claims, err := security.ValidateToken(tokenString)
	if errors.Is(err, security.ErrTokenExpired) {
		return nil, response.Unauthorized, errTokenExpired
	}
	if err != nil {
		return nil, response.Unauthorized, errTokenInvalid
	}
	return claims, response.Ok, nil
}

// AuthMiddleware 负责验证 JWT 并将用户身份信息注入 Context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			response.Fail(c, response.Unauthorized, errTokenMalformed.Error())
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, code, err := Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			response.Fail(c, code, err.Error())
			c.Abort()
			return
		}

		c.Set(consts.UserIDKey, claims.UserID)
		c.Set(consts.RolesKey, claims.Roles)

		newCtx := context.WithValue(c.Request.Context(), consts.UserIDKey, claims.UserID)
		c.Request = c.Request.WithContext(newCtx)

		c.Next()
	}
}
