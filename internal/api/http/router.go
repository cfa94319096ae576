package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/estate-auth/internal/api/http/handlers"
	"github.com/spec-kit/estate-auth/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tokens         *handlers.TokensHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/users/register", cfg.Users.Register)
	authGroup.Post("/users/login", cfg.Users.Login)
	authGroup.Post("/tokens/rotate", cfg.Tokens.Rotate)
	// logout authenticates through the presented pair itself (full refresh
	// verification plus the recency check) so it still works once the
	// access token has expired
	authGroup.Post("/tokens/logout", cfg.Tokens.Logout)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	protected.Post("/password/change", cfg.Users.ChangePassword)
}
