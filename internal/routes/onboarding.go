package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/identity"
	"github.com/amplio/onboard/internal/metrics"
	"github.com/amplio/onboard/internal/middleware"
	"github.com/amplio/onboard/internal/stagegate"
)

// RegisterOnboardingRoutes wires the session-authenticated borrower and
// reviewer endpoints. Every route is guarded by the stage gate.
func RegisterOnboardingRoutes(r fiber.Router, h *identity.Handler, m *metrics.Metrics) {
	r.Get("/me", middleware.Gate(stagegate.CapSession, m), h.Me)

	onboarding := r.Group("/onboarding")
	onboarding.Post("/profile", middleware.Gate(stagegate.CapProfileSubmission, m), h.SubmitProfile)
	onboarding.Post("/documents", middleware.Gate(stagegate.CapDocumentUpload, m), h.SubmitDocuments)

	admin := r.Group("/admin", middleware.Gate(stagegate.CapAdminConsole, m))
	admin.Get("/kyc-requests", h.ReviewQueue)
	admin.Patch("/identity/:id/decision", h.Decide)
}
