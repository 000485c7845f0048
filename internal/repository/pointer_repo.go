package repository

import (
	"Patronage/internal/chat"
	"Patronage/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPointerOwnership 只有指针的所有者才能修改其自身状态
var ErrPointerOwnership = errors.New("pointer is owned by another user")

// OwnState 指针所有者可以修改的字段，nil 表示不修改
type OwnState struct {
	SoftDeleted *bool
	Pinned      *bool
	Muted       *bool
	ResetUnread bool
}

func (s OwnState) updates() map[string]interface{} {
	m := make(map[string]interface{})
	if s.SoftDeleted != nil {
		m["soft_deleted"] = *s.SoftDeleted
	}
	if s.Pinned != nil {
		m["is_pinned"] = *s.Pinned
	}
	if s.Muted != nil {
		m["is_muted"] = *s.Muted
	}
	if s.ResetUnread {
		m["unread_count"] = 0
	}
	return m
}

// PointerRepo 会话指针存储
// 访问规则：thread_* 只在 CreatePointer 时写入；OwnState 只能由所有者写；
// 对方只能通过 BumpPeer / UpdateSummaryByThread 修改计数与预览
type PointerRepo interface {
	GetPointer(ctx context.Context, owner, counterpart uint64) (*model.ChatPointer, error)
	CreatePointer(ctx context.Context, p *model.ChatPointer) (bool, error)
	SetOwnState(ctx context.Context, actor, owner, counterpart uint64, st OwnState) error
	RemovePointer(ctx context.Context, actor, owner, counterpart uint64) error
	BumpPeer(ctx context.Context, owner, counterpart uint64, revive bool) error
	UpdateSummaryByThread(ctx context.Context, thread chat.ThreadID, s chat.Summary) error
	ListByOwner(ctx context.Context, owner uint64) ([]*model.ChatPointer, error)
	GetTotalUnreadCount(ctx context.Context, owner uint64) (int64, error)
}

type pointerRepoImpl struct {
	db *gorm.DB
}

func NewPointerRepo(db *gorm.DB) PointerRepo {
	return &pointerRepoImpl{db: db}
}

// GetPointer 获取指针，记录不存在返回 nil
func (s *pointerRepoImpl) GetPointer(ctx context.Context, owner, counterpart uint64) (*model.ChatPointer, error) {
	var p model.ChatPointer
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND counterpart_id = ?", owner, counterpart).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// CreatePointer 不存在时插入，返回是否由本次插入
// 已存在时不做任何修改，调用方据此判断并发冲突
func (s *pointerRepoImpl) CreatePointer(ctx context.Context, p *model.ChatPointer) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetOwnState 修改所有者自身的状态字段
func (s *pointerRepoImpl) SetOwnState(ctx context.Context, actor, owner, counterpart uint64, st OwnState) error {
	if actor != owner {
		return ErrPointerOwnership
	}
	updates := st.updates()
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.ChatPointer{}).
		Where("owner_id = ? AND counterpart_id = ?", owner, counterpart).
		Updates(updates).Error
}

// RemovePointer 硬删除：移除整条指针记录
func (s *pointerRepoImpl) RemovePointer(ctx context.Context, actor, owner, counterpart uint64) error {
	if actor != owner {
		return ErrPointerOwnership
	}
	return s.db.WithContext(ctx).
		Where("owner_id = ? AND counterpart_id = ?", owner, counterpart).
		Delete(&model.ChatPointer{}).Error
}

// BumpPeer 对方收到新消息：未读数 +1
// revive 为 true 时以未读数 1 重新激活软删除的指针；期间对方已自行恢复则按普通计数处理
func (s *pointerRepoImpl) BumpPeer(ctx context.Context, owner, counterpart uint64, revive bool) error {
	db := s.db.WithContext(ctx).Model(&model.ChatPointer{}).
		Where("owner_id = ? AND counterpart_id = ?", owner, counterpart).
		Session(&gorm.Session{})
	if revive {
		res := db.Where("soft_deleted = ?", true).
			Updates(map[string]interface{}{"unread_count": 1, "soft_deleted": false})
		if res.Error != nil || res.RowsAffected > 0 {
			return res.Error
		}
	}
	return db.Update("unread_count", gorm.Expr("unread_count + ?", 1)).Error
}

// UpdateSummaryByThread 刷新所有引用该会话的指针的预览信息
func (s *pointerRepoImpl) UpdateSummaryByThread(ctx context.Context, thread chat.ThreadID, sum chat.Summary) error {
	return s.db.WithContext(ctx).Model(&model.ChatPointer{}).
		Where("thread_pair_key = ? AND thread_forked_at = ?", thread.PairKey, thread.ForkedAt).
		Updates(map[string]interface{}{
			"last_msg_preview": sum.Preview,
			"last_message_at":  sum.AtPtr(),
		}).Error
}

// ListByOwner 会话列表：置顶优先，其次按最后消息时间倒序
func (s *pointerRepoImpl) ListByOwner(ctx context.Context, owner uint64) ([]*model.ChatPointer, error) {
	var list []*model.ChatPointer
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND soft_deleted = ? AND last_message_at IS NOT NULL", owner, false).
		Order("is_pinned DESC, last_message_at DESC").
		Find(&list).Error
	return list, err
}

// GetTotalUnreadCount 计算全局未读数，免打扰的会话不计入
func (s *pointerRepoImpl) GetTotalUnreadCount(ctx context.Context, owner uint64) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.ChatPointer{}).
		Where("owner_id = ? AND soft_deleted = ? AND is_muted = ?", owner, false, false).
		Select("COALESCE(SUM(unread_count), 0)").
		Scan(&total).Error
	return total, err
}
