// Package auth exposes the one-time code sign-in endpoints.
package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/domain"
	"github.com/amplio/onboard/internal/identity"
	"github.com/amplio/onboard/internal/logging"
	"github.com/amplio/onboard/internal/otp"
	"github.com/amplio/onboard/internal/session"
	"github.com/amplio/onboard/internal/stagegate"
)

// Intent distinguishes the signup and login entry points.
type Intent string

const (
	IntentAny    Intent = ""
	IntentSignup Intent = "signup"
	IntentLogin  Intent = "login"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Handler exposes auth endpoints for code request, verification and logout.
type Handler struct {
	codes      *otp.Service
	identities *identity.Service
	issuer     *session.Issuer
	cookie     CookieConfig
	logger     *slog.Logger
}

func NewHandler(codes *otp.Service, identities *identity.Service, issuer *session.Issuer, cookie CookieConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{codes: codes, identities: identities, issuer: issuer, cookie: cookie, logger: logger}
}

type challengeRequest struct {
	Contact string `json:"contact"`
	Intent  Intent `json:"intent"`
}

type challengeResponse struct {
	Sent    bool   `json:"sent"`
	Reused  bool   `json:"reused"`
	Channel string `json:"channel"`
	DevCode string `json:"dev_code,omitempty"`
}

type verifyRequest struct {
	Contact  string `json:"contact"`
	Code     string `json:"code"`
	Intent   Intent `json:"intent"`
	Referral string `json:"referral"`
}

type verifyResponse struct {
	domain.Snapshot
	Landing   string    `json:"landing"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Challenge sends a one-time code to the contact. Signup refuses known
// contacts and login refuses unknown ones before anything is sent.
func (h *Handler) Challenge(c *fiber.Ctx) error {
	var req challengeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	contact := identity.NormalizeContact(req.Contact)
	if contact == "" {
		return apperr.Validation("contact is required")
	}
	if err := h.checkIntent(c, contact, req.Intent); err != nil {
		return err
	}

	res, err := h.codes.RequestCode(c.UserContext(), contact)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(challengeResponse{
		Sent:    res.Sent,
		Reused:  res.Reused,
		Channel: string(res.Channel),
		DevCode: res.DevCode,
	})
}

// Verify checks the code, resolves the identity and sets the session cookie.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	contact := identity.NormalizeContact(req.Contact)
	if !validIntent(req.Intent) {
		return apperr.Validation("intent must be signup or login")
	}

	result, err := h.codes.VerifyCode(c.UserContext(), contact, req.Code)
	if err != nil {
		return err
	}
	switch result {
	case otp.Expired:
		return apperr.Expired("code expired, request a new one")
	case otp.Invalid:
		return apperr.Invalid("code is not valid")
	}

	current, err := h.resolve(c, contact, req.Intent, req.Referral)
	if err != nil {
		return err
	}
	token, err := h.issuer.Issue(current.ID, current.Role)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt,
		MaxAge:   int(h.issuer.TTL().Seconds()),
		Secure:   h.cookie.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	h.logger.Info("session issued",
		slog.String("identity_id", current.ID),
		slog.String("contact", logging.MaskContact(contact)),
	)
	return c.Status(http.StatusOK).JSON(verifyResponse{
		Snapshot:  current.Snapshot(),
		Landing:   stagegate.Landing(current.Subject()),
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

// Logout clears the session cookie. Credentials are stateless, so an
// already copied token stays valid until it expires.
func (h *Handler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   h.cookie.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out", "redirect": stagegate.PathLogin})
}

func (h *Handler) checkIntent(c *fiber.Ctx, contact string, intent Intent) error {
	switch intent {
	case IntentAny:
		return nil
	case IntentSignup:
		_, err := h.identities.Lookup(c.UserContext(), contact)
		if err == nil {
			return apperr.AlreadyExists("contact already registered, please log in")
		}
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	case IntentLogin:
		_, err := h.identities.Lookup(c.UserContext(), contact)
		return err
	default:
		return apperr.Validation("intent must be signup or login")
	}
}

// resolve maps a verified contact onto an identity: strict create for signup,
// find-or-fail for login and register-or-lookup otherwise.
func (h *Handler) resolve(c *fiber.Ctx, contact string, intent Intent, referral string) (identity.Identity, error) {
	ctx := c.UserContext()
	register := identity.RegisterInput{Contact: contact, Role: domain.RoleBorrower, ReferralCode: strings.TrimSpace(referral)}
	switch intent {
	case IntentSignup:
		return h.identities.Register(ctx, register)
	case IntentLogin:
		return h.identities.Lookup(ctx, contact)
	}

	existing, err := h.identities.Lookup(ctx, contact)
	if err == nil || !apperr.Is(err, apperr.KindNotFound) {
		return existing, err
	}
	created, err := h.identities.Register(ctx, register)
	if apperr.Is(err, apperr.KindAlreadyExists) {
		return h.identities.Lookup(ctx, contact)
	}
	return created, err
}

func validIntent(intent Intent) bool {
	return intent == IntentAny || intent == IntentSignup || intent == IntentLogin
}
