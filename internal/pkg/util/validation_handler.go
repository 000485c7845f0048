package util

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// 与 gin 绑定共用 dto 上的 binding 标签
	validate.SetTagName("binding")
}

// ValidateDTO 校验未经 gin 绑定的请求，例如 WebSocket 指令
func ValidateDTO(dto any) error {
	if err := validate.Struct(dto); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			firstError := vErrs[0]
			return fmt.Errorf("字段 [%s] 校验失败，规则 [%s]: %w",
				firstError.Field(),
				firstError.Tag(),
				err)
		}
		return err
	}
	return nil
}
