package model

import (
	"Patronage/internal/chat"
	"time"
)

// ChatThread 会话主表 (消息明细存 MongoDB)，身份 (pair_key, forked_at) 创建后不可变
type ChatThread struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PairKey        string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_thread_identity" json:"pairKey"` // uid1_uid2
	ForkedAt       int64      `gorm:"not null;default:0;uniqueIndex:idx_thread_identity" json:"forkedAt"`
	UserLow        uint64     `gorm:"not null" json:"userLow"`
	UserHigh       uint64     `gorm:"not null" json:"userHigh"`
	LastMsgPreview string     `gorm:"type:varchar(255)" json:"lastMsgPreview"`
	LastSenderID   uint64     `gorm:"not null;default:0" json:"lastSenderId"`
	LastMessageAt  *time.Time `json:"lastMessageAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (ChatThread) TableName() string { return "chat_threads" }

func (t *ChatThread) ThreadID() chat.ThreadID {
	return chat.ThreadID{PairKey: t.PairKey, ForkedAt: t.ForkedAt}
}

// NewChatThread 构造会话主表记录
func NewChatThread(id chat.ThreadID) (*ChatThread, error) {
	low, high, err := id.Users()
	if err != nil {
		return nil, err
	}
	return &ChatThread{
		PairKey:  id.PairKey,
		ForkedAt: id.ForkedAt,
		UserLow:  low,
		UserHigh: high,
	}, nil
}
