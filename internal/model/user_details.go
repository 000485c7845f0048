package model

// UserDetail 用户资料 (只读)，由用户服务维护，会话列表用于渲染对方昵称与头像
type UserDetail struct {
	UserID    uint64 `gorm:"primaryKey"`
	Nickname  string `gorm:"type:varchar(50);not null"`
	AvatarURL string `gorm:"type:varchar(512);column:avatar_url;default:'default_avatar.png'"`
}

func (UserDetail) TableName() string {
	return "user_detail"
}
