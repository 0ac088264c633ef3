package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pixelmint/genstudio/internal/notify"
)

// WSHandler upgrades clients onto the notification hub
type WSHandler struct {
	logger *slog.Logger
	hub    *notify.Hub
}

// NewWSHandler creates a new WSHandler instance
func NewWSHandler(deps *Dependencies) *WSHandler {
	return &WSHandler{
		logger: deps.Logger,
		hub:    deps.Hub,
	}
}

// ServeWS handles GET /ws?user_id=...
// Streams the user's job events over a websocket
func (h *WSHandler) ServeWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	h.hub.ServeWS(c.Writer, c.Request, userID)
}
