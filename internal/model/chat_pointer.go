package model

import (
	"Patronage/internal/chat"
	"time"
)

// ChatPointer 会话指针：每个 (owner, counterpart) 一条，记录 owner 当前读写的会话
// 记录不存在即为硬删除；thread_* 两列仅在创建时写入
type ChatPointer struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID        uint64     `gorm:"not null;uniqueIndex:idx_owner_counterpart" json:"ownerId"`
	CounterpartID  uint64     `gorm:"not null;uniqueIndex:idx_owner_counterpart" json:"counterpartId"`
	ThreadPairKey  string     `gorm:"type:varchar(64);not null;index:idx_pointer_thread" json:"threadPairKey"`
	ThreadForkedAt int64      `gorm:"not null;default:0;index:idx_pointer_thread" json:"threadForkedAt"` // 0-规范会话
	SoftDeleted    bool       `gorm:"not null;default:false" json:"softDeleted"`
	UnreadCount    uint64     `gorm:"not null;default:0" json:"unreadCount"`
	IsPinned       bool       `gorm:"not null;default:false" json:"isPinned"`
	IsMuted        bool       `gorm:"not null;default:false" json:"isMuted"`
	LastMsgPreview string     `gorm:"type:varchar(255)" json:"lastMsgPreview"`
	LastMessageAt  *time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (ChatPointer) TableName() string { return "chat_pointers" }

// Thread 指针引用的会话
func (p *ChatPointer) Thread() chat.ThreadID {
	return chat.ThreadID{PairKey: p.ThreadPairKey, ForkedAt: p.ThreadForkedAt}
}

// State 转为决策器使用的快照，nil 表示记录不存在
func (p *ChatPointer) State() *chat.PointerState {
	if p == nil {
		return nil
	}
	return &chat.PointerState{Thread: p.Thread(), SoftDeleted: p.SoftDeleted}
}

// NewChatPointer 以指定会话初始化指针
func NewChatPointer(owner, counterpart uint64, thread chat.ThreadID) *ChatPointer {
	return &ChatPointer{
		OwnerID:        owner,
		CounterpartID:  counterpart,
		ThreadPairKey:  thread.PairKey,
		ThreadForkedAt: thread.ForkedAt,
	}
}
