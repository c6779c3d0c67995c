// Package stagegate decides whether an identity may use a capability given its
// role and onboarding position. The decision table below is the only place the
// rules live; the server middleware and the client route guard both call
// Decide.
package stagegate

import (
	"strings"

	"github.com/amplio/onboard/internal/domain"
)

// Capability is something a request or a view wants to do.
type Capability string

const (
	// CapSession covers reading one's own snapshot and logging out.
	CapSession           Capability = "session"
	CapProfileSubmission Capability = "profile_submission"
	CapDocumentUpload    Capability = "document_submission"
	CapReviewStatus      Capability = "review_status"
	CapFullApplication   Capability = "full_application"
	CapAdminConsole      Capability = "admin_console"
)

// Canonical client paths.
const (
	PathRoot           = "/"
	PathLogin          = "/login"
	PathProfileSetup   = "/profile"
	PathDocumentUpload = "/kyc"
	PathReviewStatus   = "/kyc-review"
	PathDashboard      = "/borrower/dashboard"
	PathAdminConsole   = "/admin/dashboard"
)

// requiredRole lists the role each capability is restricted to. An empty role
// means any authenticated identity.
var requiredRole = map[Capability]domain.Role{
	CapSession:           "",
	CapProfileSubmission: domain.RoleBorrower,
	CapDocumentUpload:    domain.RoleBorrower,
	CapReviewStatus:      domain.RoleBorrower,
	CapFullApplication:   domain.RoleBorrower,
	CapAdminConsole:      domain.RoleAdmin,
}

type row struct {
	stage    domain.Stage
	kyc      []domain.KYCStatus
	entitled []Capability
	target   string
}

// borrowerTable is the onboarding decision table. A rejected review still
// entitles document upload so the borrower can resubmit; its landing view is
// the review status.
var borrowerTable = []row{
	{
		stage:    domain.StageProfilePending,
		kyc:      []domain.KYCStatus{domain.KYCPending},
		entitled: []Capability{CapProfileSubmission},
		target:   PathProfileSetup,
	},
	{
		stage:    domain.StageKYCPending,
		kyc:      []domain.KYCStatus{domain.KYCPending},
		entitled: []Capability{CapDocumentUpload},
		target:   PathDocumentUpload,
	},
	{
		stage:    domain.StageKYCPending,
		kyc:      []domain.KYCStatus{domain.KYCUnderReview},
		entitled: []Capability{CapReviewStatus},
		target:   PathReviewStatus,
	},
	{
		stage:    domain.StageKYCPending,
		kyc:      []domain.KYCStatus{domain.KYCRejected},
		entitled: []Capability{CapReviewStatus, CapDocumentUpload},
		target:   PathReviewStatus,
	},
	{
		stage:    domain.StageCompleted,
		kyc:      []domain.KYCStatus{domain.KYCApproved},
		entitled: []Capability{CapFullApplication},
		target:   PathDashboard,
	},
}

func lookup(stage domain.Stage, kyc domain.KYCStatus) (row, bool) {
	for _, r := range borrowerTable {
		if r.stage != stage {
			continue
		}
		for _, k := range r.kyc {
			if k == kyc {
				return r, true
			}
		}
	}
	return row{}, false
}

func (r row) entitles(c Capability) bool {
	for _, e := range r.entitled {
		if e == c {
			return true
		}
	}
	return false
}

// CapabilityForPath maps a client path onto the capability its view needs.
// The root path and unknown paths report ok=false.
func CapabilityForPath(path string) (Capability, bool) {
	switch {
	case path == PathProfileSetup:
		return CapProfileSubmission, true
	case path == PathDocumentUpload:
		return CapDocumentUpload, true
	case path == PathReviewStatus:
		return CapReviewStatus, true
	case path == "/borrower" || strings.HasPrefix(path, "/borrower/"):
		return CapFullApplication, true
	case path == "/admin" || strings.HasPrefix(path, "/admin/"):
		return CapAdminConsole, true
	default:
		return "", false
	}
}
