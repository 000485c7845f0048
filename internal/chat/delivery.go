package chat

import (
	"time"
	"unicode/utf8"
)

// DeliveryState 消息投递状态, 只能单调前进
type DeliveryState int8

const (
	StateSent      DeliveryState = 1
	StateDelivered DeliveryState = 2
	StateRead      DeliveryState = 3
)

func (s DeliveryState) Valid() bool {
	return s >= StateSent && s <= StateRead
}

func (s DeliveryState) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	}
	return "unknown"
}

// CanEdit 对方已读后不可再编辑
func (s DeliveryState) CanEdit() bool {
	return s < StateRead
}

// Advance 尝试推进到 to, 不允许回退; 返回推进后的状态以及是否发生变化
func (s DeliveryState) Advance(to DeliveryState) (DeliveryState, bool) {
	if !to.Valid() || to <= s {
		return s, false
	}
	return to, true
}

// DeletionMode 删除消息的两种结果
type DeletionMode int

const (
	// DeleteRemove 未读消息直接移除, 不留痕迹
	DeleteRemove DeletionMode = iota + 1
	// DeleteTombstone 已读消息清空内容保留墓碑
	DeleteTombstone
)

func DeletionFor(s DeliveryState) DeletionMode {
	if s >= StateRead {
		return DeleteTombstone
	}
	return DeleteRemove
}

const (
	// PreviewMaxRunes 与 last_msg_preview 列宽一致
	PreviewMaxRunes   = 255
	AttachmentPreview = "[附件]"
)

// Summary 会话摘要, 零值表示没有可展示的消息
type Summary struct {
	Preview  string
	SenderID uint64
	At       time.Time
}

func (s Summary) IsZero() bool {
	return s.At.IsZero()
}

// AtPtr 供可空时间列使用
func (s Summary) AtPtr() *time.Time {
	if s.IsZero() {
		return nil
	}
	t := s.At
	return &t
}

// PreviewOf 生成消息预览文本
func PreviewOf(content string, attachments int) string {
	if content == "" && attachments > 0 {
		return AttachmentPreview
	}
	if utf8.RuneCountInString(content) <= PreviewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewMaxRunes])
}
