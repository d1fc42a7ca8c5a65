package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notify-api/internal/handler"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
)

type Handler struct {
	limiter *ratelimit.Limiter
}

func NewHandler(l *ratelimit.Limiter) *Handler {
	return &Handler{limiter: l}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/ratelimit/check", h.Check)
}

type checkRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Action     string `json:"action" binding:"required"`
}

// Check consumes one slot for the identifier/action pair and reports the
// decision. Denied callers get the reset time and re-poll themselves.
func (h *Handler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	decision, err := h.limiter.Check(c.Request.Context(), req.Identifier, req.Action)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, handler.NewSuccessResponse(decision))
}
