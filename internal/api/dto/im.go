package dto

import "time"

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	TargetUserID uint64          `json:"target_user_id" binding:"required"`
	Content      string          `json:"content" binding:"max=2000"`
	Attachments  []AttachmentReq `json:"attachments" binding:"max=9,dive"`
}

// AttachmentReq 附件，媒体需先通过媒体服务上传
type AttachmentReq struct {
	MediaKey string  `json:"media_key" binding:"required,max=512"`
	MimeType string  `json:"mime_type" binding:"required"`
	Size     int64   `json:"size" binding:"gte=0"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Locked   bool    `json:"locked"`
	Price    int64   `json:"price" binding:"gte=0"` // 单位：分
}

// EditMessageReq 编辑消息请求体
type EditMessageReq struct {
	Content string `json:"content" binding:"required,max=2000"`
}

// PinReq 置顶/取消置顶
type PinReq struct {
	Pinned bool `json:"pinned"`
}

// MuteReq 开启/关闭免打扰
type MuteReq struct {
	Muted bool `json:"muted"`
}

// HistoryQuery 历史消息翻页参数，before 与 before_id 取上一页最旧的一条，首页不传
type HistoryQuery struct {
	PeerID   uint64 `form:"peer_id" binding:"required"`
	Before   int64  `form:"before" binding:"gte=0"`
	BeforeID string `form:"before_id" binding:"omitempty,len=24,hexadecimal"`
	PageSize int    `form:"page_size" binding:"gte=0,lte=100"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID            string           `json:"id" copier:"-"` // 当前会话中副本的 ID，翻页游标使用
	MsgID         string           `json:"msg_id"`
	ThreadID      string           `json:"thread_id"`
	SenderID      uint64           `json:"sender_id"`
	Content       string           `json:"content"`
	Attachments   []*AttachmentDTO `json:"attachments"`
	DeliveryState int8             `json:"delivery_state"` // 1-已发送, 2-已送达, 3-已读
	Edited        bool             `json:"edited"`
	Deleted       bool             `json:"deleted"`
	CreatedAt     time.Time        `json:"createdAt"`
	EditedAt      *time.Time       `json:"editedAt"`
}

// AttachmentDTO 附件响应，付费未解锁的附件不返回地址
type AttachmentDTO struct {
	MediaKey string  `json:"media_key"`
	URL      string  `json:"url,omitempty"`
	MimeType string  `json:"mime_type"`
	Size     int64   `json:"size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Locked   bool    `json:"locked"`
	Price    int64   `json:"price"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	PeerID         uint64     `json:"peer_id"`
	PeerNickname   string     `json:"peer_nickname"`
	PeerAvatarURL  string     `json:"peer_avatar_url"`
	ThreadID       string     `json:"thread_id"`
	LastMsgPreview string     `json:"last_msg_preview"`
	LastMessageAt  *time.Time `json:"lastMessageAt"`
	UnreadCount    uint64     `json:"unreadCount"`
	IsMuted        bool       `json:"isMuted"`
	IsPinned       bool       `json:"isPinned"`
}

// PointerDTO 当前用户视角的会话状态
type PointerDTO struct {
	ThreadID       string     `json:"thread_id"`
	SoftDeleted    bool       `json:"soft_deleted"`
	UnreadCount    uint64     `json:"unreadCount"`
	IsMuted        bool       `json:"isMuted"`
	IsPinned       bool       `json:"isPinned"`
	LastMsgPreview string     `json:"last_msg_preview"`
	LastMessageAt  *time.Time `json:"lastMessageAt"`
}

// SessionViewDTO 会话视图快照
type SessionViewDTO struct {
	State    string        `json:"state"`
	PeerID   uint64        `json:"peer_id"`
	ThreadID string        `json:"thread_id,omitempty"`
	Pointer  *PointerDTO   `json:"pointer"`
	Messages []*MessageDTO `json:"messages"`
}

// UnreadDTO 全局未读数
type UnreadDTO struct {
	Total int64 `json:"total"`
}

// FeedEvent 会话变更通知 (Redis Pub/Sub)，订阅方收到后自行拉取最新状态
type FeedEvent struct {
	Type     string `json:"type"` // pointer / message
	ThreadID string `json:"thread_id,omitempty"`
	MsgID    string `json:"msg_id,omitempty"`
}

// ChatEvent 发往通知服务的消息事件 (Kafka)
type ChatEvent struct {
	Type       string    `json:"type"`
	MsgID      string    `json:"msg_id"`
	ThreadID   string    `json:"thread_id"`
	SenderID   uint64    `json:"sender_id"`
	ReceiverID uint64    `json:"receiver_id"`
	Preview    string    `json:"preview"`
	CreatedAt  time.Time `json:"createdAt"`
}

// WsCommand 客户端经 WebSocket 发来的指令
type WsCommand struct {
	Action      string          `json:"action" binding:"required,oneof=send edit delete"`
	MsgID       string          `json:"msg_id" binding:"max=64"`
	Content     string          `json:"content" binding:"max=2000"`
	Attachments []AttachmentReq `json:"attachments" binding:"max=9,dive"`
}

// WsFrame 服务端推送帧
type WsFrame struct {
	Type    string      `json:"type"` // view / ack / error
	Code    int         `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
