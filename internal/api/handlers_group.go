package api

import (
	"Patronage/internal/api/handler"
	"Patronage/internal/api/middleware"
)

// HandlersGroup 私信接口的 Handler 以及共用的来源白名单
type HandlersGroup struct {
	Origins   *middleware.OriginChecker
	IMHandler *handler.IMHandler
	WSHandler *handler.WsHandler
}
