package repository

import (
	"Patronage/internal/model"
	"context"

	"gorm.io/gorm"
)

// ProfileRepo 用户资料只读访问
type ProfileRepo interface {
	GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) ([]*model.UserDetail, error)
}

type profileRepoImpl struct {
	db *gorm.DB
}

func NewProfileRepo(db *gorm.DB) ProfileRepo {
	return &profileRepoImpl{db: db}
}

func (s *profileRepoImpl) GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) ([]*model.UserDetail, error) {
	details := make([]*model.UserDetail, 0, len(ids))
	if len(ids) == 0 {
		return details, nil
	}
	err := s.db.WithContext(ctx).
		Select("user_id", "nickname", "avatar_url").
		Where("user_id IN ?", ids).
		Find(&details).Error
	return details, err
}
