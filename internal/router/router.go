package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/habit-tracker/internal/handler"
	"github.com/iliyamo/habit-tracker/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication:
// health checks and, when metrics is non-nil, the Prometheus scrape
// endpoint.
func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	e.GET("/api/test", handler.APITest)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers registration and login, both behind limit, and
// the authenticated /api/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, tokens middleware.TokenVerifier, limit echo.MiddlewareFunc) {
	api := e.Group("/api")
	api.POST("/register", a.Register, limit)
	api.POST("/login", a.Login, limit)
	api.GET("/me", a.Me, middleware.AuthGate(tokens))
}

// RegisterHabits registers the habit endpoints.  All of them require a
// valid session token.
func RegisterHabits(e *echo.Echo, h *handler.HabitHandler, tokens middleware.TokenVerifier) {
	g := e.Group("/api/habits", middleware.AuthGate(tokens))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.PUT("/:id", h.Rename)
	g.PATCH("/:id", h.Rename)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/entries", h.Track)
	g.GET("/:id/stats", h.Stats)
}
