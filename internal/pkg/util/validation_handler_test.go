package util

import (
	"Patronage/internal/api/dto"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidateDTO(t *testing.T) {
	assert.NoError(t, ValidateDTO(&dto.WsCommand{Action: "send", Content: "hi"}))

	err := ValidateDTO(&dto.WsCommand{Action: "purge"})
	var vErrs validator.ValidationErrors
	assert.ErrorAs(t, err, &vErrs)
	assert.Contains(t, err.Error(), "Action")

	err = ValidateDTO(&dto.WsCommand{Action: "send", Content: strings.Repeat("a", 2001)})
	assert.ErrorAs(t, err, &vErrs)

	err = ValidateDTO(&dto.WsCommand{Action: "send", Attachments: []dto.AttachmentReq{{MimeType: "image/png"}}})
	assert.ErrorAs(t, err, &vErrs)
}
