package stagegate

import "github.com/amplio/onboard/internal/domain"

// Outcome is the kind of a gate decision.
type Outcome string

const (
	Allow    Outcome = "allow"
	Deny     Outcome = "deny"
	Redirect Outcome = "redirect"
)

// Decision is the result of Decide. Target is set for Redirect only.
type Decision struct {
	Outcome Outcome
	Target  string
	Reason  string
}

// Subject is the part of an identity the gate looks at.
type Subject struct {
	ID        string
	Role      domain.Role
	Stage     domain.Stage
	KYCStatus domain.KYCStatus
}

// FromSnapshot builds a Subject from a server snapshot.
func FromSnapshot(s domain.Snapshot) Subject {
	return Subject{ID: s.ID, Role: s.Role, Stage: s.Stage, KYCStatus: s.KYCStatus}
}

// Decide is the authorization decision for one capability. A nil subject is
// an unauthenticated caller.
func Decide(subject *Subject, capability Capability) Decision {
	if subject == nil || subject.ID == "" {
		return Decision{Outcome: Deny, Reason: "unauthenticated"}
	}
	role, known := requiredRole[capability]
	if !known {
		return Decision{Outcome: Deny, Reason: "unknown capability"}
	}
	if role != "" && subject.Role != role {
		return Decision{Outcome: Deny, Reason: "role mismatch"}
	}
	if capability == CapSession || subject.Role == domain.RoleAdmin {
		return Decision{Outcome: Allow}
	}

	r, ok := lookup(subject.Stage, subject.KYCStatus)
	if !ok {
		return Decision{Outcome: Deny, Reason: "inconsistent onboarding state"}
	}
	if r.entitles(capability) {
		return Decision{Outcome: Allow}
	}
	return Decision{Outcome: Redirect, Target: r.target, Reason: "stage not reached"}
}

// Landing is the canonical view for a subject: where the root path, login and
// every InvalidState response send it.
func Landing(subject *Subject) string {
	if subject == nil || subject.ID == "" {
		return PathLogin
	}
	switch subject.Role {
	case domain.RoleAdmin:
		return PathAdminConsole
	case domain.RoleBorrower:
		if r, ok := lookup(subject.Stage, subject.KYCStatus); ok {
			return r.target
		}
	}
	return PathLogin
}
