// Package domain holds the onboarding vocabulary shared by the server, the
// stage gate and the client route guard.
package domain

// Role is fixed at identity creation.
type Role string

const (
	RoleBorrower Role = "borrower"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleBorrower || r == RoleAdmin
}

// Stage is a position in the onboarding pipeline. Stages are ordered.
type Stage string

const (
	StageProfilePending Stage = "profile_pending"
	StageKYCPending     Stage = "kyc_pending"
	StageCompleted      Stage = "completed"
)

var stageOrder = map[Stage]int{
	StageProfilePending: 0,
	StageKYCPending:     1,
	StageCompleted:      2,
}

func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes strictly earlier in the pipeline than other.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// KYCStatus is the identity-document review sub-state.
type KYCStatus string

const (
	KYCPending     KYCStatus = "pending"
	KYCUnderReview KYCStatus = "under_review"
	KYCApproved    KYCStatus = "approved"
	KYCRejected    KYCStatus = "rejected"
)

func (k KYCStatus) Valid() bool {
	switch k {
	case KYCPending, KYCUnderReview, KYCApproved, KYCRejected:
		return true
	default:
		return false
	}
}

// Snapshot is the server's view of an identity's onboarding position. It is
// the body of GET /me and the only input the client route guard trusts.
type Snapshot struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Stage           Stage     `json:"stage"`
	KYCStatus       KYCStatus `json:"kyc_status"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	FullName        string    `json:"full_name,omitempty"`
}
