package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/domain"
	"github.com/amplio/onboard/internal/logging"
	"github.com/amplio/onboard/internal/notification"
	"github.com/amplio/onboard/internal/stagegate"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func validProfile() ProfileInput {
	return ProfileInput{
		FullName:    "Asha Rao",
		Email:       "Asha@Example.com",
		DateOfBirth: "1990-04-12",
		Address:     "12 Lake Road",
		City:        "Pune",
		Region:      "MH",
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, Repository, *recordingPublisher) {
	t.Helper()
	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub), WithLogger(logging.Discard())}, opts...)
	return NewService(repo, opts...), repo, pub
}

func TestRegisterStartsAtProfilePending(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterInput{Contact: " 9990001111 ", ReferralCode: "FRIEND10"})
	require.NoError(t, err)
	assert.Equal(t, "9990001111", created.PrimaryContact)
	assert.Equal(t, domain.RoleBorrower, created.Role)
	assert.Equal(t, domain.StageProfilePending, created.Stage)
	assert.Equal(t, domain.KYCPending, created.KYC.Status)
	assert.Equal(t, "FRIEND10", created.ReferralCode)
	assert.Equal(t, []string{notification.EventIdentityCreated}, pub.types())

	_, err = svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	assert.True(t, apperr.Is(err, apperr.KindAlreadyExists), "got %v", err)
}

func TestLookupNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Lookup(context.Background(), "9990002222")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestProfileEmailDoesNotClaimContact(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	squatter, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	_, err = svc.SubmitProfile(ctx, squatter.ID, validProfile())
	require.NoError(t, err)

	_, err = svc.Lookup(ctx, "ASHA@example.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	owner, err := svc.Register(ctx, RegisterInput{Contact: "asha@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, squatter.ID, owner.ID)

	found, err := svc.Lookup(ctx, "ASHA@example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, found.ID)
}

func TestFullOnboardingLifecycle(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	admin, err := svc.ProvisionAdmin(ctx, "admin@amplio.test")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, admin.Stage)
	assert.Equal(t, domain.KYCApproved, admin.KYC.Status)

	assert.Equal(t, stagegate.Redirect, stagegate.Decide(created.Subject(), stagegate.CapFullApplication).Outcome)

	profiled, err := svc.SubmitProfile(ctx, created.ID, validProfile())
	require.NoError(t, err)
	assert.Equal(t, domain.StageKYCPending, profiled.Stage)
	assert.Equal(t, "asha@example.com", profiled.Profile.Email)
	assert.Equal(t, 2, profiled.Version)
	assert.Equal(t, stagegate.Redirect, stagegate.Decide(profiled.Subject(), stagegate.CapFullApplication).Outcome)

	submitted, err := svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "s3://kyc/pan.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, domain.KYCUnderReview, submitted.KYC.Status)
	assert.Equal(t, 1, submitted.KYC.Submissions)
	assert.Equal(t, stagegate.Redirect, stagegate.Decide(submitted.Subject(), stagegate.CapFullApplication).Outcome)

	approved, err := svc.ReviewDecision(ctx, created.ID, ReviewInput{Approve: true, ReviewerID: admin.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, approved.Stage)
	assert.Equal(t, domain.KYCApproved, approved.KYC.Status)
	assert.Equal(t, admin.ID, approved.KYC.ReviewedBy)
	require.NotNil(t, approved.KYC.ReviewedAt)
	assert.Equal(t, stagegate.Allow, stagegate.Decide(approved.Subject(), stagegate.CapFullApplication).Outcome)

	assert.Equal(t, []string{
		notification.EventIdentityCreated,
		notification.EventIdentityCreated,
		notification.EventProfileSubmitted,
		notification.EventDocumentsSubmitted,
		notification.EventKYCApproved,
	}, pub.types())
}

func TestSubmitProfileValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)

	cases := map[string]func(*ProfileInput){
		"missing name":   func(p *ProfileInput) { p.FullName = "  " },
		"missing region": func(p *ProfileInput) { p.Region = "" },
		"bad email":      func(p *ProfileInput) { p.Email = "asha.example.com" },
		"bad dob":        func(p *ProfileInput) { p.DateOfBirth = "12/04/1990" },
		"future dob":     func(p *ProfileInput) { p.DateOfBirth = time.Now().AddDate(1, 0, 0).Format(dateLayout) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validProfile()
			mutate(&in)
			_, err := svc.SubmitProfile(ctx, created.ID, in)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	current, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageProfilePending, current.Stage)
}

func TestSubmitProfileTwiceIsInvalidState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	_, err = svc.SubmitProfile(ctx, created.ID, validProfile())
	require.NoError(t, err)

	_, err = svc.SubmitProfile(ctx, created.ID, validProfile())
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindInvalidState, appErr.Kind)
	assert.Equal(t, stagegate.PathDocumentUpload, appErr.Target)
}

func TestSubmitDocumentsBeforeProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)

	_, err = svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "ref-1"}})
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindInvalidState, appErr.Kind)
	assert.Equal(t, stagegate.PathProfileSetup, appErr.Target)

	_, err = svc.SubmitDocuments(ctx, created.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRejectThenResubmit(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	_, err = svc.SubmitProfile(ctx, created.ID, validProfile())
	require.NoError(t, err)
	_, err = svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "ref-1"}})
	require.NoError(t, err)

	_, err = svc.ReviewDecision(ctx, created.ID, ReviewInput{Approve: false, Reason: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	rejected, err := svc.ReviewDecision(ctx, created.ID, ReviewInput{Approve: false, Reason: "blurry scan"})
	require.NoError(t, err)
	assert.Equal(t, domain.KYCRejected, rejected.KYC.Status)
	assert.Equal(t, domain.StageKYCPending, rejected.Stage)
	assert.Equal(t, "blurry scan", rejected.KYC.RejectionReason)
	assert.Equal(t, stagegate.PathReviewStatus, stagegate.Landing(rejected.Subject()))

	_, err = svc.ReviewDecision(ctx, created.ID, ReviewInput{Approve: true})
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	resubmitted, err := svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "ref-2"}})
	require.NoError(t, err)
	assert.Equal(t, domain.KYCUnderReview, resubmitted.KYC.Status)
	assert.Empty(t, resubmitted.KYC.RejectionReason)
	assert.Equal(t, 2, resubmitted.KYC.Submissions)
	assert.Contains(t, pub.types(), notification.EventKYCRejected)
}

func TestSubmissionCap(t *testing.T) {
	svc, _, _ := newTestService(t, WithPolicy(Policy{MaxKYCSubmissions: 1}))
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	_, err = svc.SubmitProfile(ctx, created.ID, validProfile())
	require.NoError(t, err)
	_, err = svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "ref-1"}})
	require.NoError(t, err)
	_, err = svc.ReviewDecision(ctx, created.ID, ReviewInput{Reason: "expired id"})
	require.NoError(t, err)

	_, err = svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "ref-2"}})
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)
}

func TestReviewQueueListsSubmittedOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	pending, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	_, err = svc.ProvisionAdmin(ctx, "reviewer@amplio.test")
	require.NoError(t, err)
	submitted, err := svc.Register(ctx, RegisterInput{Contact: "9990002222"})
	require.NoError(t, err)
	_, err = svc.SubmitProfile(ctx, submitted.ID, validProfile())
	require.NoError(t, err)
	_, err = svc.SubmitDocuments(ctx, submitted.ID, []Document{{Type: "aadhaar", Locator: "ref-9"}})
	require.NoError(t, err)

	queue, err := svc.ReviewQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, submitted.ID, queue[0].ID)
	assert.NotEqual(t, pending.ID, queue[0].ID)
}

// conflictingRepository fails the first n updates with a version conflict.
type conflictingRepository struct {
	Repository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepository) Update(ctx context.Context, identity Identity, expectedVersion int) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return ErrVersionConflict
	}
	r.mu.Unlock()
	return r.Repository.Update(ctx, identity, expectedVersion)
}

func TestMutateRetriesVersionConflicts(t *testing.T) {
	repo := &conflictingRepository{Repository: NewMemoryRepository()}
	svc := NewService(repo, WithLogger(logging.Discard()))
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)

	repo.conflicts = 2
	updated, err := svc.SubmitProfile(ctx, created.ID, validProfile())
	require.NoError(t, err)
	assert.Equal(t, domain.StageKYCPending, updated.Stage)

	repo.conflicts = maxUpdateAttempts
	_, err = svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "pan", Locator: "ref"}})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestConcurrentProfileSubmissionAppliesOnce(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitProfile(ctx, created.ID, validProfile())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		kind := apperr.KindOf(err)
		assert.True(t, kind == apperr.KindInvalidState || kind == apperr.KindConflict, "got %v", err)
	}
	assert.Equal(t, 1, ok)

	var profileEvents int
	for _, typ := range pub.types() {
		if typ == notification.EventProfileSubmitted {
			profileEvents++
		}
	}
	assert.Equal(t, 1, profileEvents)
}

func TestResubmissionRacingReviewDecision(t *testing.T) {
	ctx := context.Background()
	resubmitted := []Document{{Type: "passport", Locator: "ref-2"}}

	for i := 0; i < 20; i++ {
		svc, repo, _ := newTestService(t)
		created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
		require.NoError(t, err)
		_, err = svc.SubmitProfile(ctx, created.ID, validProfile())
		require.NoError(t, err)
		_, err = svc.SubmitDocuments(ctx, created.ID, []Document{{Type: "passport", Locator: "ref-1"}})
		require.NoError(t, err)
		_, err = svc.ReviewDecision(ctx, created.ID, ReviewInput{Approve: false, Reason: "blurred", ReviewerID: "admin-1"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var submitErr, reviewErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, submitErr = svc.SubmitDocuments(ctx, created.ID, resubmitted)
		}()
		go func() {
			defer wg.Done()
			_, reviewErr = svc.ReviewDecision(ctx, created.ID, ReviewInput{Approve: true, ReviewerID: "admin-1"})
		}()
		wg.Wait()

		require.NoError(t, submitErr)
		final, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.NoError(t, final.checkInvariants())
		assert.Equal(t, resubmitted, final.KYC.Documents)
		assert.Equal(t, 2, final.KYC.Submissions)

		if reviewErr == nil {
			// The approval saw the resubmitted documents.
			assert.Equal(t, domain.StageCompleted, final.Stage)
			assert.Equal(t, domain.KYCApproved, final.KYC.Status)
			assert.Empty(t, final.KYC.RejectionReason)
		} else {
			// A rejected record cannot be approved before it is resubmitted.
			assert.True(t, apperr.Is(reviewErr, apperr.KindInvalidState), "got %v", reviewErr)
			assert.Equal(t, domain.StageKYCPending, final.Stage)
			assert.Equal(t, domain.KYCUnderReview, final.KYC.Status)
		}
	}
}

func TestMutateRefusesStageRegression(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Contact: "9990001111"})
	require.NoError(t, err)
	_, err = svc.SubmitProfile(ctx, created.ID, validProfile())
	require.NoError(t, err)

	_, _, err = svc.mutate(ctx, "Rewind", created.ID, func(identity *Identity) error {
		identity.Stage = domain.StageProfilePending
		return nil
	})
	require.ErrorContains(t, err, "cannot move back")

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageKYCPending, stored.Stage)
}

type failingRepository struct{ Repository }

func (failingRepository) FindByID(context.Context, string) (Identity, error) {
	return Identity{}, errors.New("connection refused")
}

func TestStoreFailureIsTransport(t *testing.T) {
	svc := NewService(failingRepository{NewMemoryRepository()})
	_, err := svc.Get(context.Background(), "any")
	assert.True(t, apperr.Is(err, apperr.KindTransport))
}
