package handler

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/pkg/consts"
	"Patronage/internal/pkg/response"
	"Patronage/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	imService service.IMService
}

func NewIMHandler(imService service.IMService) *IMHandler {
	return &IMHandler{imService: imService}
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, err)
		return
	}

	// 从 Context 中获取中间件解析出的当前用户 ID
	senderID := c.GetUint64(consts.UserIDKey)

	res, err := s.imService.SendMessage(c.Request.Context(), senderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// EditMessage 编辑消息，对方已读后不可编辑
func (s *IMHandler) EditMessage(c *gin.Context) {
	var req dto.EditMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, err)
		return
	}

	userID := c.GetUint64(consts.UserIDKey)
	res, err := s.imService.EditMessage(c.Request.Context(), userID, c.Param("msg_id"), req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteMessage 删除消息
func (s *IMHandler) DeleteMessage(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)
	if err := s.imService.DeleteMessage(c.Request.Context(), userID, c.Param("msg_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkAsRead 标记已读接口
func (s *IMHandler) MarkAsRead(c *gin.Context) {
	peerID, ok := peerParam(c)
	if !ok {
		return
	}

	userID := c.GetUint64(consts.UserIDKey)
	if err := s.imService.MarkAsRead(c.Request.Context(), userID, peerID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetChatHistory 获取历史消息，before 为毫秒时间戳
func (s *IMHandler) GetChatHistory(c *gin.Context) {
	var query dto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Invalid(c, err)
		return
	}

	userID := c.GetUint64(consts.UserIDKey)
	res, err := s.imService.GetChatHistory(c.Request.Context(), userID, &query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetConversationList 获取会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)
	res, err := s.imService.GetConversationList(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteConversation 删除会话，mode=hard 时清空历史
func (s *IMHandler) DeleteConversation(c *gin.Context) {
	peerID, ok := peerParam(c)
	if !ok {
		return
	}
	var hard bool
	switch c.DefaultQuery("mode", "soft") {
	case "soft":
	case "hard":
		hard = true
	default:
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64(consts.UserIDKey)
	if err := s.imService.DeleteConversation(c.Request.Context(), userID, peerID, hard); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PinConversation 置顶或取消置顶
func (s *IMHandler) PinConversation(c *gin.Context) {
	peerID, ok := peerParam(c)
	if !ok {
		return
	}
	var req dto.PinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, err)
		return
	}

	userID := c.GetUint64(consts.UserIDKey)
	if err := s.imService.PinConversation(c.Request.Context(), userID, peerID, req.Pinned); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MuteConversation 开启或关闭免打扰
func (s *IMHandler) MuteConversation(c *gin.Context) {
	peerID, ok := peerParam(c)
	if !ok {
		return
	}
	var req dto.MuteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, err)
		return
	}

	userID := c.GetUint64(consts.UserIDKey)
	if err := s.imService.MuteConversation(c.Request.Context(), userID, peerID, req.Muted); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetTotalUnread 全局未读数
func (s *IMHandler) GetTotalUnread(c *gin.Context) {
	userID := c.GetUint64(consts.UserIDKey)
	res, err := s.imService.GetTotalUnread(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func peerParam(c *gin.Context) (uint64, bool) {
	peerID, err := strconv.ParseUint(c.Param("peer_id"), 10, 64)
	if err != nil || peerID == 0 {
		response.Error(c, service.ErrParamInvalid)
		return 0, false
	}
	return peerID, true
}
