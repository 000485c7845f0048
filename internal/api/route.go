package api

import (
	"Patronage/internal/api/middleware"
	"Patronage/internal/pkg/logger"
	"Patronage/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & CORS & Logger
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware(group.Origins))
	r.Use(middleware.AuditMiddleware())
	logger.SetupGin(r)
	r.NoRoute(func(c *gin.Context) {
		response.Fail(c, response.NotFound, "接口不存在")
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			response.Success(c, "pong")
		})

		imGroup := apiGroup.Group("/im")
		{
			// WebSocket 在 handler 内通过 query token 鉴权
			imGroup.GET("/ws", group.WSHandler.Connect)

			authGroup := imGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/send", group.IMHandler.SendMessage)
				authGroup.PUT("/message/:msg_id", group.IMHandler.EditMessage)
				authGroup.DELETE("/message/:msg_id", group.IMHandler.DeleteMessage)
				authGroup.GET("/history", group.IMHandler.GetChatHistory)
				authGroup.GET("/list", group.IMHandler.GetConversationList)
				authGroup.GET("/unread", group.IMHandler.GetTotalUnread)
				authGroup.POST("/conversation/:peer_id/read", group.IMHandler.MarkAsRead)
				authGroup.PUT("/conversation/:peer_id/pin", group.IMHandler.PinConversation)
				authGroup.PUT("/conversation/:peer_id/mute", group.IMHandler.MuteConversation)
				authGroup.DELETE("/conversation/:peer_id", group.IMHandler.DeleteConversation)
			}
		}
	}

	return r
}
