package identity

import (
	"errors"
	"time"

	"github.com/amplio/onboard/internal/domain"
	"github.com/amplio/onboard/internal/stagegate"
)

var (
	ErrNotFound         = errors.New("identity: not found")
	ErrDuplicateContact = errors.New("identity: contact already registered")
	ErrVersionConflict  = errors.New("identity: version conflict")
)

// Identity is the durable user aggregate.
type Identity struct {
	ID             string
	PrimaryContact string
	Role           domain.Role
	Stage          domain.Stage
	Profile        Profile
	KYC            KYC
	ReferralCode   string
	// Version increases by one on every successful update.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is captured by the profile submission step.
type Profile struct {
	FullName    string
	Email       string
	DateOfBirth time.Time
	Address     string
	City        string
	Region      string
}

// KYC is the identity-document review sub-record.
type KYC struct {
	Status          domain.KYCStatus
	RejectionReason string
	Documents       []Document
	Submissions     int
	ReviewedBy      string
	ReviewedAt      *time.Time
}

// Document is a reference handed back by the document store.
type Document struct {
	Type    string `json:"type"`
	Locator string `json:"locator"`
}

// Snapshot is the externally visible onboarding position.
func (i Identity) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		ID:              i.ID,
		Role:            i.Role,
		Stage:           i.Stage,
		KYCStatus:       i.KYC.Status,
		RejectionReason: i.KYC.RejectionReason,
		FullName:        i.Profile.FullName,
	}
}

// Subject is the stage gate input for this identity.
func (i Identity) Subject() *stagegate.Subject {
	return &stagegate.Subject{ID: i.ID, Role: i.Role, Stage: i.Stage, KYCStatus: i.KYC.Status}
}

func (i Identity) clone() Identity {
	c := i
	c.KYC.Documents = append([]Document(nil), i.KYC.Documents...)
	if i.KYC.ReviewedAt != nil {
		at := *i.KYC.ReviewedAt
		c.KYC.ReviewedAt = &at
	}
	return c
}

func (i Identity) checkInvariants() error {
	if !i.Role.Valid() || !i.Stage.Valid() || !i.KYC.Status.Valid() {
		return errors.New("identity: unknown role, stage or kyc status")
	}
	if i.Stage == domain.StageCompleted && i.KYC.Status != domain.KYCApproved {
		return errors.New("identity: completed stage requires approved kyc")
	}
	if i.KYC.Status == domain.KYCRejected && i.KYC.RejectionReason == "" {
		return errors.New("identity: rejected kyc requires a reason")
	}
	return nil
}
