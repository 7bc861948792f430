package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/vkotelev/nearchat/internal/handlers"
	"github.com/vkotelev/nearchat/internal/hub"
	"github.com/vkotelev/nearchat/internal/middleware"
)

type Deps struct {
	AuthHandler     *handlers.AuthHandler
	ChatHandler     *handlers.ChatHandler
	LocationHandler *handlers.LocationHandler
	Hub             *hub.Hub
	Auth            *middleware.Auth
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	e.GET("/ws/chats/:id", d.Hub.Handle)

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.Login)
	v1.POST("/refresh", d.AuthHandler.Refresh)

	authed := v1.Group("", d.Auth.RequireAuth)
	authed.POST("/logout", d.AuthHandler.Logout)
	authed.DELETE("/users/me", d.AuthHandler.DeleteMe)

	authed.POST("/chats", d.ChatHandler.CreateChat)
	authed.GET("/chats/:id/messages", d.ChatHandler.ListMessages)
	authed.POST("/chats/:id/messages", d.ChatHandler.PostMessage)
	authed.GET("/chats/:id/messages/search", d.ChatHandler.SearchMessages)

	authed.PUT("/location", d.LocationHandler.Update)
}
