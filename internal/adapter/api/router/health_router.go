package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
)

func SetupHealthRouter(e *echo.Echo, metricsHandler http.Handler) {
	healthHandler := handler.GetHealthHandler()
	e.GET("/health", healthHandler.CheckHealth)
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
}
