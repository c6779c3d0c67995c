package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/domain"
	"github.com/amplio/onboard/internal/stagegate"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type snapshotResponse struct {
	domain.Snapshot
	Landing string `json:"landing"`
}

func newSnapshotResponse(identity Identity) snapshotResponse {
	return snapshotResponse{Snapshot: identity.Snapshot(), Landing: stagegate.Landing(identity.Subject())}
}

type profileRequest struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	DateOfBirth string `json:"date_of_birth"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Region      string `json:"region"`
}

type documentsRequest struct {
	Documents []Document `json:"documents"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type reviewItem struct {
	domain.Snapshot
	Contact     string     `json:"contact"`
	Email       string     `json:"email,omitempty"`
	Documents   []Document `json:"documents"`
	Submissions int        `json:"submissions"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Me returns the caller's onboarding snapshot.
func (h *Handler) Me(c *fiber.Ctx) error {
	identity, err := h.service.Get(c.UserContext(), callerID(c))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Unauthorized("session no longer valid")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(newSnapshotResponse(identity))
}

// SubmitProfile records the caller's profile.
func (h *Handler) SubmitProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	identity, err := h.service.SubmitProfile(c.UserContext(), callerID(c), ProfileInput{
		FullName:    req.FullName,
		Email:       req.Email,
		DateOfBirth: req.DateOfBirth,
		Address:     req.Address,
		City:        req.City,
		Region:      req.Region,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(newSnapshotResponse(identity))
}

// SubmitDocuments records the caller's KYC document references.
func (h *Handler) SubmitDocuments(c *fiber.Ctx) error {
	var req documentsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	identity, err := h.service.SubmitDocuments(c.UserContext(), callerID(c), req.Documents)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(newSnapshotResponse(identity))
}

// ReviewQueue lists identities with submitted documents.
func (h *Handler) ReviewQueue(c *fiber.Ctx) error {
	identities, err := h.service.ReviewQueue(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]reviewItem, 0, len(identities))
	for _, identity := range identities {
		items = append(items, reviewItem{
			Snapshot:    identity.Snapshot(),
			Contact:     identity.PrimaryContact,
			Email:       identity.Profile.Email,
			Documents:   documentsOrEmpty(identity.KYC.Documents),
			Submissions: identity.KYC.Submissions,
			ReviewedBy:  identity.KYC.ReviewedBy,
			ReviewedAt:  identity.KYC.ReviewedAt,
			UpdatedAt:   identity.UpdatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"requests": items})
}

// Decide applies an approve or reject decision to the identity in the path.
func (h *Handler) Decide(c *fiber.Ctx) error {
	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("malformed request body")
	}
	var approve bool
	switch req.Decision {
	case "approve":
		approve = true
	case "reject":
	default:
		return apperr.Validation("decision must be approve or reject")
	}
	identity, err := h.service.ReviewDecision(c.UserContext(), c.Params("id"), ReviewInput{
		Approve:    approve,
		Reason:     req.Reason,
		ReviewerID: callerID(c),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(newSnapshotResponse(identity))
}

func callerID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
