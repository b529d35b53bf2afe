package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type HealthHandler struct {
	chat ChatService
}

func NewHealthHandler(chat ChatService) *HealthHandler {
	return &HealthHandler{
		chat: chat,
	}
}

// CheckHealth reports liveness. Being offline is not unhealthy: the daemon
// keeps composing into the outbox.
func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"connectivity": h.chat.ConnectivityStatus(),
		"pending":      h.chat.PendingCount(),
		"time":         time.Now().Format(time.RFC3339),
	})
}
