package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/metrics"
	"github.com/amplio/onboard/internal/stagegate"
)

// Gate enforces a capability with the stage gate. It must run after
// SessionAuth. A redirect decision becomes an InvalidState error carrying the
// canonical target.
func Gate(capability stagegate.Capability, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := Subject(c)
		decision := stagegate.Decide(subject, capability)
		m.ObserveGateDecision(string(capability), string(decision.Outcome))

		switch decision.Outcome {
		case stagegate.Allow:
			return c.Next()
		case stagegate.Redirect:
			return apperr.InvalidState("not available at the current onboarding stage", decision.Target)
		default:
			if subject == nil {
				return apperr.Unauthorized("authentication required")
			}
			return apperr.Forbidden(decision.Reason)
		}
	}
}
