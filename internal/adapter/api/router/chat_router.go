package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
)

// SetupChatRouter sets up the message and sync routes
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	v1 := e.Group("/v1")
	v1.Use(authMiddleware.Authenticate)

	v1.POST("/messages", chatHandler.SendMessage) // POST /v1/messages - Send or queue a message
	v1.GET("/messages", chatHandler.GetMessages)  // GET /v1/messages - Confirmed then pending

	v1.GET("/status", chatHandler.GetStatus)             // GET /v1/status - Connectivity and outbox depth
	v1.POST("/flush", chatHandler.Flush)                 // POST /v1/flush - Flush the outbox now
	v1.PUT("/connectivity", chatHandler.SetConnectivity) // PUT /v1/connectivity - Manual override
}
