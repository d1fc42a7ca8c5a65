package notification

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/notify-api/internal/dispatcher"
	"github.com/jwalitptl/notify-api/internal/handler"
	"github.com/jwalitptl/notify-api/internal/model"
)

type Handler struct {
	dispatcher *dispatcher.Dispatcher
}

func NewHandler(d *dispatcher.Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.Enqueue)
		notifications.GET("/:id", h.Get)
		notifications.DELETE("/:id", h.Cancel)
	}
}

type enqueueRequest struct {
	RecipientID string     `json:"recipient_id" binding:"required"`
	Type        string     `json:"type" binding:"required"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Channels    []string   `json:"channels" binding:"omitempty,dive,channel"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	result, err := h.dispatcher.Enqueue(c.Request.Context(), req.RecipientID, req.Type, &dispatcher.Overrides{
		Subject:  req.Subject,
		Body:     req.Body,
		Channels: req.Channels,
		Priority: model.Priority(req.Priority),
	}, req.ScheduledAt)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	if result.Throttled {
		// Intentional suppression, not an error.
		c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
			"throttled": true,
		}))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{
		"id":        result.ID,
		"throttled": false,
	}))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification id"))
		return
	}

	n, attempts, err := h.dispatcher.Get(c.Request.Context(), id)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"notification": n,
		"attempts":     attempts,
	}))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification id"))
		return
	}

	if err := h.dispatcher.Cancel(c.Request.Context(), id); err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": true}))
}
