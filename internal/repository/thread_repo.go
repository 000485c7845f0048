package repository

import (
	"Patronage/internal/chat"
	"Patronage/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ThreadRepo interface {
	EnsureThread(ctx context.Context, thread chat.ThreadID) error
	GetThread(ctx context.Context, thread chat.ThreadID) (*model.ChatThread, error)
	HasHistory(ctx context.Context, pairKey string) (bool, error)
	UpdateSummary(ctx context.Context, thread chat.ThreadID, s chat.Summary) error
}

type threadRepoImpl struct {
	db *gorm.DB
}

func NewThreadRepo(db *gorm.DB) ThreadRepo {
	return &threadRepoImpl{db: db}
}

// EnsureThread 会话不存在时创建，已存在则保持不变
func (s *threadRepoImpl) EnsureThread(ctx context.Context, thread chat.ThreadID) error {
	t, err := model.NewChatThread(thread)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(t).Error
}

// GetThread 获取会话，不存在返回 nil
func (s *threadRepoImpl) GetThread(ctx context.Context, thread chat.ThreadID) (*model.ChatThread, error) {
	var t model.ChatThread
	err := s.db.WithContext(ctx).
		Where("pair_key = ? AND forked_at = ?", thread.PairKey, thread.ForkedAt).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// HasHistory 两人之间是否创建过任何会话 (含分叉)
func (s *threadRepoImpl) HasHistory(ctx context.Context, pairKey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ChatThread{}).
		Where("pair_key = ?", pairKey).
		Count(&count).Error
	return count > 0, err
}

// UpdateSummary 覆盖写会话预览信息
func (s *threadRepoImpl) UpdateSummary(ctx context.Context, thread chat.ThreadID, sum chat.Summary) error {
	return s.db.WithContext(ctx).Model(&model.ChatThread{}).
		Where("pair_key = ? AND forked_at = ?", thread.PairKey, thread.ForkedAt).
		Updates(map[string]interface{}{
			"last_msg_preview": sum.Preview,
			"last_sender_id":   sum.SenderID,
			"last_message_at":  sum.AtPtr(),
		}).Error
}
