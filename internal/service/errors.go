package service

import (
	"Patronage/internal/repository"
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrParamInvalid             = errors.New("参数错误")
	ErrTargetUserInvalid        = errors.New("目标用户无效")
	ErrNotAuthenticated         = errors.New("未登录")
	ErrMessageNotFound          = errors.New("消息不存在")
	ErrConversationNotFound     = errors.New("会话不存在")
	ErrMessageAlreadySeen       = errors.New("对方已读，消息不可再编辑")
	ErrThreadResolutionConflict = errors.New("会话状态冲突，请重试")
	ErrStoreUnavailable         = errors.New("存储暂不可用，请稍后重试")
	ErrSessionClosed            = errors.New("会话已关闭")
	ErrAttachmentNotSupported   = errors.New("不支持的附件类型")
	ErrAttachmentNotFound       = errors.New("附件未上传")
	UnauthorizedError           = errors.New("权限不足")
	UnExpectedError             = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:                BadRequest,
	ErrTargetUserInvalid:           BadRequest,
	ErrNotAuthenticated:            Unauthorized,
	ErrMessageNotFound:             NotFound,
	ErrConversationNotFound:        NotFound,
	ErrMessageAlreadySeen:          BadRequest,
	ErrThreadResolutionConflict:    Conflict,
	ErrStoreUnavailable:            ServiceUnavailable,
	ErrSessionClosed:               BadRequest,
	ErrAttachmentNotSupported:      BadRequest,
	ErrAttachmentNotFound:          BadRequest,
	UnauthorizedError:              Unauthorized,
	UnExpectedError:                InternalServerError,
	repository.ErrPointerOwnership: Forbidden,
}

// CodeOf 解析错误对应的业务码与哨兵错误，支持被包装的错误；未知错误返回 nil
func CodeOf(err error) (int, error) {
	if code, ok := ErrorMap[err]; ok {
		return code, err
	}
	for target, code := range ErrorMap {
		if errors.Is(err, target) {
			return code, target
		}
	}
	return InternalServerError, nil
}
