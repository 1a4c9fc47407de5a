package server

import (
	"github.com/labstack/echo/v4"

	"github.com/vantu-dev/pairlink/internal/application/config"
	"github.com/vantu-dev/pairlink/internal/infra/ports/http/handlers"
	"github.com/vantu-dev/pairlink/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	messageHandler *handlers.MessageHandler,
	callHandler *handlers.CallHandler,
	iceHandler *handlers.IceHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.Prometheus())

	api := e.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}

		v1 := api.Group("/v1")
		v1.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
		{
			v1.GET("/me", authHandler.GetMe)

			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/ws", wsHandler.Handle)

			v1.GET("/messages/:roomID", messageHandler.ListByRoom)

			v1.POST("/calls/start", callHandler.Start)
			v1.POST("/calls/:id/end", callHandler.End)
			v1.GET("/calls/history", callHandler.History)
		}
	}

	e.Static("/", cfg.StaticDir)

	return e
}
