package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// WriteError maps domain errors onto HTTP statuses.
func WriteError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrNotFound:
			c.JSON(http.StatusNotFound, NewErrorResponse(appErr.Message))
		case apperrors.ErrBadRequest:
			c.JSON(http.StatusBadRequest, NewErrorResponse(appErr.Message))
		case apperrors.ErrConflict:
			c.JSON(http.StatusConflict, NewErrorResponse(appErr.Message))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse("internal server error"))
		}
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrUnknownType):
		c.JSON(http.StatusNotFound, NewErrorResponse("unknown notification type"))
	case errors.Is(err, apperrors.ErrInvalidState):
		c.JSON(http.StatusConflict, NewErrorResponse("operation not allowed in current state"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse("internal server error"))
	}
}
