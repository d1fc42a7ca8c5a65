package notification

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/notify-api/internal/model"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("channel", validChannel)
	}
}

// validChannel accepts only channels the dispatcher can route.
func validChannel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case model.ChannelEmail, model.ChannelSMS, model.ChannelPush, model.ChannelInApp:
		return true
	}
	return false
}
