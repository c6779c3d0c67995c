package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/identity"
	"github.com/amplio/onboard/internal/session"
	"github.com/amplio/onboard/internal/stagegate"
)

const (
	userIDLocal  = "user_id"
	roleLocal    = "role"
	subjectLocal = "subject"
)

// IdentityLoader fetches the current identity record.
type IdentityLoader interface {
	Get(ctx context.Context, id string) (identity.Identity, error)
}

// SessionAuth validates the session credential from the cookie or the bearer
// header, then reloads the identity so stage decisions use the stored record
// rather than anything embedded in the credential.
func SessionAuth(issuer *session.Issuer, loader IdentityLoader, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := Credential(c, cookieName)
		if raw == "" {
			return apperr.Unauthorized("missing session credential")
		}
		claims, err := issuer.Validate(raw)
		if err != nil {
			return err
		}

		current, err := loader.Get(c.UserContext(), claims.IdentityID())
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return apperr.Unauthorized("session no longer valid")
			}
			return err
		}

		c.Locals(userIDLocal, current.ID)
		c.Locals(roleLocal, string(current.Role))
		c.Locals(subjectLocal, current.Subject())
		return c.Next()
	}
}

// Credential extracts the raw session credential. The bearer header wins
// over the cookie.
func Credential(c *fiber.Ctx, cookieName string) string {
	authz := c.Get(fiber.HeaderAuthorization)
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return c.Cookies(cookieName)
}

// UserID returns the authenticated identity id, or "".
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(userIDLocal).(string)
	return uid
}

// Subject returns the stage gate subject set by SessionAuth, or nil.
func Subject(c *fiber.Ctx) *stagegate.Subject {
	subject, _ := c.Locals(subjectLocal).(*stagegate.Subject)
	return subject
}
