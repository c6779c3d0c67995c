package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/auth"
)

// RegisterAuthRoutes wires the one-time code sign-in endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/challenge", rateLimiter, h.Challenge)
	} else {
		group.Post("/challenge", h.Challenge)
	}
	group.Post("/verify", h.Verify)
	group.Post("/logout", h.Logout)
}
