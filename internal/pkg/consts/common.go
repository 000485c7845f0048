package consts

const (
	MimePrefixImage = "image"
	MimePrefixAudio = "audio"
	MimePrefixVideo = "video"
)

const (
	DefaultAvatarURL = "default_avatar.png"
)

const (
	// UserIDKey gin.Context 与 context.Context 中当前用户 ID 的键
	UserIDKey = "user_id"
	RolesKey  = "roles"
)
