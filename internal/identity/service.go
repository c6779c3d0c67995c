package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/domain"
	"github.com/amplio/onboard/internal/logging"
	"github.com/amplio/onboard/internal/metrics"
	"github.com/amplio/onboard/internal/notification"
	"github.com/amplio/onboard/internal/stagegate"
)

const (
	maxUpdateAttempts = 3
	dateLayout        = "2006-01-02"
)

// reviewQueueStatuses are the KYC states listed for reviewers.
var reviewQueueStatuses = []domain.KYCStatus{domain.KYCUnderReview, domain.KYCApproved, domain.KYCRejected}

// Policy holds configurable onboarding rules.
type Policy struct {
	// MaxKYCSubmissions caps document submissions; zero is unlimited.
	MaxKYCSubmissions int
}

// Service manages the identity lifecycle.
type Service struct {
	repo      Repository
	publisher notification.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	policy    Policy
	timeout   time.Duration
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p notification.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }

// WithTimeout bounds every repository call.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// NewService creates a new identity service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		logger:  logging.Discard(),
		timeout: 3 * time.Second,
		now:     time.Now,
		tracer:  otel.Tracer("github.com/amplio/onboard/internal/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = notification.NewLogPublisher(s.logger)
	}
	return s
}

// RegisterInput describes a new identity.
type RegisterInput struct {
	Contact      string
	Role         domain.Role
	ReferralCode string
}

// ProfileInput carries the mandatory profile fields.
type ProfileInput struct {
	FullName    string
	Email       string
	DateOfBirth string
	Address     string
	City        string
	Region      string
}

// ReviewInput is a reviewer's decision on submitted documents.
type ReviewInput struct {
	Approve    bool
	Reason     string
	ReviewerID string
}

// NormalizeContact trims a contact and lowercases email addresses.
func NormalizeContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if strings.Contains(contact, "@") {
		return strings.ToLower(contact)
	}
	return contact
}

// Register creates an identity at the initial stage. It is the strict-create
// primitive: an existing contact fails with AlreadyExists.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Register")
	defer span.End()

	contact := NormalizeContact(in.Contact)
	if contact == "" {
		return Identity{}, apperr.Validation("contact is required")
	}
	role := in.Role
	if role == "" {
		role = domain.RoleBorrower
	}
	if !role.Valid() {
		return Identity{}, apperr.Validation("unknown role")
	}

	now := s.now().UTC()
	identity := Identity{
		ID:             uuid.NewString(),
		PrimaryContact: contact,
		Role:           role,
		Stage:          domain.StageProfilePending,
		KYC:            KYC{Status: domain.KYCPending},
		ReferralCode:   strings.TrimSpace(in.ReferralCode),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if role == domain.RoleAdmin {
		identity.Stage = domain.StageCompleted
		identity.KYC.Status = domain.KYCApproved
	}

	repoCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Create(repoCtx, identity); err != nil {
		if errors.Is(err, ErrDuplicateContact) {
			return Identity{}, apperr.AlreadyExists("contact already registered, please log in")
		}
		return Identity{}, s.storeFailure(span, "create identity", err)
	}

	s.logger.Info("identity registered",
		slog.String("identity_id", identity.ID),
		slog.String("contact", logging.MaskContact(contact)),
		slog.String("role", string(role)),
	)
	s.emit(ctx, notification.EventIdentityCreated, Identity{}, identity, "")
	return identity, nil
}

// ProvisionAdmin creates an admin identity for contact.
func (s *Service) ProvisionAdmin(ctx context.Context, contact string) (Identity, error) {
	return s.Register(ctx, RegisterInput{Contact: contact, Role: domain.RoleAdmin})
}

// Lookup is the find-or-fail primitive used by login.
func (s *Service) Lookup(ctx context.Context, contact string) (Identity, error) {
	contact = NormalizeContact(contact)
	if contact == "" {
		return Identity{}, apperr.Validation("contact is required")
	}
	repoCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	identity, err := s.repo.FindByContact(repoCtx, contact)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, apperr.NotFound("contact not registered, please sign up")
	}
	if err != nil {
		return Identity{}, apperr.Transport("identity store unavailable", err)
	}
	return identity, nil
}

// Get loads an identity by id.
func (s *Service) Get(ctx context.Context, id string) (Identity, error) {
	repoCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	identity, err := s.repo.FindByID(repoCtx, id)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, apperr.NotFound("identity not found")
	}
	if err != nil {
		return Identity{}, apperr.Transport("identity store unavailable", err)
	}
	return identity, nil
}

// SubmitProfile records the profile and advances to kyc_pending.
func (s *Service) SubmitProfile(ctx context.Context, id string, in ProfileInput) (Identity, error) {
	profile, err := validateProfile(in, s.now())
	if err != nil {
		return Identity{}, err
	}
	_, next, err := s.mutate(ctx, "SubmitProfile", id, func(identity *Identity) error {
		if identity.Stage != domain.StageProfilePending {
			return apperr.InvalidState("profile already submitted", stagegate.Landing(identity.Subject()))
		}
		identity.Profile = profile
		identity.Stage = domain.StageKYCPending
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	return next, nil
}

// SubmitDocuments records document references and puts KYC under review.
func (s *Service) SubmitDocuments(ctx context.Context, id string, docs []Document) (Identity, error) {
	if len(docs) == 0 {
		return Identity{}, apperr.Validation("at least one document is required")
	}
	cleaned := make([]Document, 0, len(docs))
	for i, d := range docs {
		d.Type = strings.TrimSpace(d.Type)
		d.Locator = strings.TrimSpace(d.Locator)
		if d.Type == "" || d.Locator == "" {
			return Identity{}, apperr.Validation(fmt.Sprintf("document %d needs a type and a locator", i+1))
		}
		cleaned = append(cleaned, d)
	}

	_, next, err := s.mutate(ctx, "SubmitDocuments", id, func(identity *Identity) error {
		if identity.Stage != domain.StageKYCPending {
			return apperr.InvalidState("documents cannot be submitted at this stage", stagegate.Landing(identity.Subject()))
		}
		if limit := s.policy.MaxKYCSubmissions; limit > 0 && identity.KYC.Submissions >= limit {
			return apperr.InvalidState("document submission limit reached", stagegate.Landing(identity.Subject()))
		}
		identity.KYC.Documents = cleaned
		identity.KYC.Status = domain.KYCUnderReview
		identity.KYC.RejectionReason = ""
		identity.KYC.Submissions++
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	return next, nil
}

// ReviewDecision applies a reviewer's approve or reject decision. Callers
// must already have been authorized as admins.
func (s *Service) ReviewDecision(ctx context.Context, id string, in ReviewInput) (Identity, error) {
	reason := strings.TrimSpace(in.Reason)
	if !in.Approve && reason == "" {
		return Identity{}, apperr.Validation("rejection reason is required")
	}

	_, next, err := s.mutate(ctx, "ReviewDecision", id, func(identity *Identity) error {
		if identity.KYC.Status != domain.KYCUnderReview {
			return apperr.InvalidState("identity is not under review", stagegate.Landing(identity.Subject()))
		}
		at := s.now().UTC()
		identity.KYC.ReviewedBy = in.ReviewerID
		identity.KYC.ReviewedAt = &at
		if in.Approve {
			identity.KYC.Status = domain.KYCApproved
			identity.KYC.RejectionReason = ""
			identity.Stage = domain.StageCompleted
			return nil
		}
		identity.KYC.Status = domain.KYCRejected
		identity.KYC.RejectionReason = reason
		identity.Stage = domain.StageKYCPending
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	return next, nil
}

// ReviewQueue lists borrowers whose documents have been submitted.
func (s *Service) ReviewQueue(ctx context.Context) ([]Identity, error) {
	repoCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	listed, err := s.repo.ListByKYCStatus(repoCtx, reviewQueueStatuses)
	if err != nil {
		return nil, apperr.Transport("identity store unavailable", err)
	}
	out := listed[:0]
	for _, identity := range listed {
		if identity.Role == domain.RoleBorrower {
			out = append(out, identity)
		}
	}
	return out, nil
}

// mutate loads the identity, applies fn and writes it back under the version
// check. On a version conflict the identity is reloaded and fn re-evaluated
// against the fresh state.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(*Identity) error) (Identity, Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity."+op, trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			span.RecordError(err)
			return Identity{}, Identity{}, err
		}

		next := current.clone()
		if err := fn(&next); err != nil {
			return Identity{}, Identity{}, err
		}
		next.UpdatedAt = s.now().UTC()
		if err := next.checkInvariants(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Identity{}, Identity{}, fmt.Errorf("%s: %w", op, err)
		}
		if next.Stage.Before(current.Stage) {
			err := fmt.Errorf("%s: stage cannot move back from %s to %s", op, current.Stage, next.Stage)
			span.SetStatus(codes.Error, err.Error())
			return Identity{}, Identity{}, err
		}

		repoCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.repo.Update(repoCtx, next, current.Version)
		cancel()
		switch {
		case err == nil:
			next.Version = current.Version + 1
			s.afterTransition(ctx, op, current, next)
			return current, next, nil
		case errors.Is(err, ErrVersionConflict):
			s.logger.Debug("identity update conflict", slog.String("identity_id", id), slog.String("op", op), slog.Int("attempt", attempt))
			continue
		case errors.Is(err, ErrNotFound):
			return Identity{}, Identity{}, apperr.NotFound("identity not found")
		default:
			return Identity{}, Identity{}, s.storeFailure(span, "update identity", err)
		}
	}
	return Identity{}, Identity{}, apperr.Conflict("identity was modified concurrently, retry")
}

func (s *Service) afterTransition(ctx context.Context, op string, from, to Identity) {
	fromLabel := string(from.Stage) + "/" + string(from.KYC.Status)
	toLabel := string(to.Stage) + "/" + string(to.KYC.Status)
	s.metrics.ObserveTransition(fromLabel, toLabel)
	s.logger.Info("identity transition",
		slog.String("identity_id", to.ID),
		slog.String("op", op),
		slog.String("from", fromLabel),
		slog.String("to", toLabel),
	)

	var eventType string
	switch {
	case from.Stage == domain.StageProfilePending && to.Stage == domain.StageKYCPending:
		eventType = notification.EventProfileSubmitted
	case to.KYC.Status == domain.KYCApproved && from.KYC.Status != domain.KYCApproved:
		eventType = notification.EventKYCApproved
	case to.KYC.Status == domain.KYCRejected && from.KYC.Status != domain.KYCRejected:
		eventType = notification.EventKYCRejected
	case to.KYC.Status == domain.KYCUnderReview:
		eventType = notification.EventDocumentsSubmitted
	default:
		return
	}
	s.emit(ctx, eventType, from, to, to.KYC.RejectionReason)
}

func (s *Service) emit(ctx context.Context, eventType string, from, to Identity, reason string) {
	event := notification.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		IdentityID: to.ID,
		Role:       string(to.Role),
		FromStage:  string(from.Stage),
		ToStage:    string(to.Stage),
		KYCStatus:  string(to.KYC.Status),
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warn("publish onboarding event", slog.String("type", eventType), slog.String("identity_id", to.ID), slog.Any("error", err))
	}
}

func (s *Service) storeFailure(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.Error(msg, slog.Any("error", err))
	return apperr.Transport("identity store unavailable", err)
}

func validateProfile(in ProfileInput, now time.Time) (Profile, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"full_name", in.FullName},
		{"email", in.Email},
		{"date_of_birth", in.DateOfBirth},
		{"address", in.Address},
		{"city", in.City},
		{"region", in.Region},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Profile{}, apperr.Validation("missing required fields: " + strings.Join(missing, ", "))
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 {
		return Profile{}, apperr.Validation("email is not valid")
	}
	dob, err := time.Parse(dateLayout, strings.TrimSpace(in.DateOfBirth))
	if err != nil {
		return Profile{}, apperr.Validation("date_of_birth must be formatted as YYYY-MM-DD")
	}
	if !dob.Before(now) {
		return Profile{}, apperr.Validation("date_of_birth must be in the past")
	}

	return Profile{
		FullName:    strings.TrimSpace(in.FullName),
		Email:       email,
		DateOfBirth: dob.UTC(),
		Address:     strings.TrimSpace(in.Address),
		City:        strings.TrimSpace(in.City),
		Region:      strings.TrimSpace(in.Region),
	}, nil
}
