package response

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/service"
	"errors"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	Ok                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// Success 成功返回封装
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, dto.Response{
		Code:    Ok,
		Message: "success",
		Data:    data,
	})
}

// Fail 失败返回封装
func Fail(c *gin.Context, businessCode int, message string) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    businessCode,
		Message: message,
		Data:    nil,
	})
}

// Invalid 请求体绑定失败
func Invalid(c *gin.Context, err error) {
	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		Fail(c, BadRequest, "参数错误")
		return
	}
	Fail(c, BadRequest, "Json错误")
}

// Error 将业务错误映射为响应码，未知错误只返回通用提示
func Error(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		Fail(c, BadRequest, "参数错误")
		return
	}

	var unmarshalTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeError) {
		Fail(c, BadRequest, "Json错误")
		return
	}

	_ = c.Error(err)
	code, sentinel := service.CodeOf(err)
	if sentinel == nil {
		log.ErrorContext(c.Request.Context(), "Error", "err", err)
		Fail(c, code, service.UnExpectedError.Error())
		return
	}
	if sentinel != err {
		log.WarnContext(c.Request.Context(), "Error", "err", err)
	}
	Fail(c, code, sentinel.Error())
}
