package identity

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amplio/onboard/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Repository persists identities.
type Repository interface {
	Create(ctx context.Context, identity Identity) error
	FindByID(ctx context.Context, id string) (Identity, error)
	// FindByContact matches the verified primary contact only. Profile
	// emails are self-declared and never resolve a login.
	FindByContact(ctx context.Context, contact string) (Identity, error)
	// Update writes identity if the stored version equals expectedVersion.
	Update(ctx context.Context, identity Identity, expectedVersion int) error
	ListByKYCStatus(ctx context.Context, statuses []domain.KYCStatus) ([]Identity, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the identities table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate identities: %w", err)
	}
	return nil
}

const selectColumns = `id, primary_contact, role, stage, full_name, profile_email, date_of_birth,
	address, city, region, kyc_status, rejection_reason, documents, kyc_submissions,
	reviewed_by, reviewed_at, referral_code, version, created_at, updated_at`

// Create inserts a new identity.
func (r *PostgresRepository) Create(ctx context.Context, identity Identity) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return err
	}
	docs, err := json.Marshal(documentsOrEmpty(identity.KYC.Documents))
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO identities (id, primary_contact, role, stage, kyc_status,
        documents, referral_code, full_name, profile_email, rejection_reason, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, identity.PrimaryContact, string(identity.Role), string(identity.Stage), string(identity.KYC.Status),
		docs, identity.ReferralCode, identity.Profile.FullName, identity.Profile.Email, identity.KYC.RejectionReason,
		identity.Version, identity.CreatedAt.UTC(), identity.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateContact
	}
	return err
}

// FindByID fetches an identity by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	return scanIdentity(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM identities WHERE id = $1`, uid))
}

// FindByContact fetches an identity by primary contact.
func (r *PostgresRepository) FindByContact(ctx context.Context, contact string) (Identity, error) {
	return scanIdentity(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM identities WHERE primary_contact = $1`, contact))
}

// Update stores all mutable fields guarded by the version column.
func (r *PostgresRepository) Update(ctx context.Context, identity Identity, expectedVersion int) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return ErrNotFound
	}
	docs, err := json.Marshal(documentsOrEmpty(identity.KYC.Documents))
	if err != nil {
		return err
	}
	var dob *time.Time
	if !identity.Profile.DateOfBirth.IsZero() {
		d := identity.Profile.DateOfBirth.UTC()
		dob = &d
	}
	cmd, err := r.db.Exec(ctx, `UPDATE identities SET
            stage = $3, full_name = $4, profile_email = $5, date_of_birth = $6, address = $7,
            city = $8, region = $9, kyc_status = $10, rejection_reason = $11, documents = $12,
            kyc_submissions = $13, reviewed_by = $14, reviewed_at = $15, updated_at = $16,
            version = version + 1
        WHERE id = $1 AND version = $2`,
		id, expectedVersion,
		string(identity.Stage), identity.Profile.FullName, identity.Profile.Email, dob, identity.Profile.Address,
		identity.Profile.City, identity.Profile.Region, string(identity.KYC.Status), identity.KYC.RejectionReason, docs,
		identity.KYC.Submissions, identity.KYC.ReviewedBy, identity.KYC.ReviewedAt, identity.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// ListByKYCStatus returns identities in any of the statuses, oldest update first.
func (r *PostgresRepository) ListByKYCStatus(ctx context.Context, statuses []domain.KYCStatus) ([]Identity, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM identities
        WHERE kyc_status = ANY($1) ORDER BY updated_at ASC`, values)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		id         uuid.UUID
		identity   Identity
		role       string
		stage      string
		kycStatus  string
		dob        *time.Time
		docs       []byte
		reviewedAt *time.Time
	)
	err := row.Scan(&id, &identity.PrimaryContact, &role, &stage, &identity.Profile.FullName, &identity.Profile.Email,
		&dob, &identity.Profile.Address, &identity.Profile.City, &identity.Profile.Region, &kycStatus,
		&identity.KYC.RejectionReason, &docs, &identity.KYC.Submissions, &identity.KYC.ReviewedBy, &reviewedAt,
		&identity.ReferralCode, &identity.Version, &identity.CreatedAt, &identity.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	identity.ID = id.String()
	identity.Role = domain.Role(role)
	identity.Stage = domain.Stage(stage)
	identity.KYC.Status = domain.KYCStatus(kycStatus)
	if dob != nil {
		identity.Profile.DateOfBirth = dob.UTC()
	}
	if reviewedAt != nil {
		at := reviewedAt.UTC()
		identity.KYC.ReviewedAt = &at
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &identity.KYC.Documents); err != nil {
			return Identity{}, fmt.Errorf("decode documents: %w", err)
		}
	}
	identity.CreatedAt = identity.CreatedAt.UTC()
	identity.UpdatedAt = identity.UpdatedAt.UTC()
	return identity, nil
}

func documentsOrEmpty(docs []Document) []Document {
	if docs == nil {
		return []Document{}
	}
	return docs
}
