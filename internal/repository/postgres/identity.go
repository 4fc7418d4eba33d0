package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/pkg/database"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

const identityColumns = `id, email, password_hash, first_name, last_name, phone, role, is_active, email_verified, phone_verified, created_at, updated_at`

const (
	insertIdentitySQL = `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertDoctorProfileSQL = `
		INSERT INTO doctor_profiles (identity_id, specialties, license_number, experience_years, consultation_fee, bio,
		    verification_status, verification_documents, availability, is_available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	selectIdentityByIDSQL = `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`

	selectIdentityByEmailSQL = `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`

	updateIdentitySQL = `
		UPDATE identities
		SET email = $1, first_name = $2, last_name = $3, phone = $4, is_active = $5, updated_at = $6
		WHERE id = $7`

	updatePasswordSQL = `UPDATE identities SET password_hash = $1, updated_at = $2 WHERE id = $3`

	setEmailVerifiedSQL = `UPDATE identities SET email_verified = TRUE, updated_at = $1 WHERE id = $2`

	setPhoneVerifiedSQL = `UPDATE identities SET phone_verified = TRUE, updated_at = $1 WHERE id = $2`
)

// IdentityRepository implements repository.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db       database.DBTX
	profiles *DoctorProfileRepository
}

// NewIdentityRepository creates a new PostgreSQL-backed identity repository.
func NewIdentityRepository(db database.DBTX) *IdentityRepository {
	return &IdentityRepository{db: db, profiles: NewDoctorProfileRepository(db)}
}

// Create inserts a new identity. A doctor identity and its profile are
// written in the same transaction so neither exists without the other.
func (r *IdentityRepository) Create(ctx context.Context, id *domain.Identity) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateIdentity", insertIdentitySQL)
	defer func() { end(err) }()

	if !id.IsDoctor() {
		return insertIdentity(ctx, r.db, id)
	}
	if id.DoctorProfile == nil {
		return apperrors.InvalidInput("doctor identity requires a profile")
	}

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertIdentity(ctx, tx, id); err != nil {
			return err
		}
		id.DoctorProfile.IdentityID = id.ID
		return insertDoctorProfile(ctx, tx, id.DoctorProfile)
	})
}

func insertIdentity(ctx context.Context, db database.DBTX, id *domain.Identity) error {
	_, err := db.Exec(ctx, insertIdentitySQL,
		id.ID,
		id.Email,
		id.PasswordHash,
		id.FirstName,
		id.LastName,
		id.Phone,
		string(id.Role),
		id.IsActive,
		id.EmailVerified,
		id.PhoneVerified,
		id.CreatedAt,
		id.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("identity", "email", id.Email)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func insertDoctorProfile(ctx context.Context, db database.DBTX, p *domain.DoctorProfile) error {
	availability, err := json.Marshal(availabilityOrEmpty(p.Availability))
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	_, err = db.Exec(ctx, insertDoctorProfileSQL,
		p.IdentityID,
		stringsOrEmpty(p.Specialties),
		p.LicenseNumber,
		p.ExperienceYears,
		p.ConsultationFee,
		p.Bio,
		string(p.VerificationStatus),
		stringsOrEmpty(p.VerificationDocuments),
		availability,
		p.IsAvailable,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("doctor profile", "identity", p.IdentityID)
		}
		return fmt.Errorf("insert doctor profile: %w", err)
	}
	return nil
}

// GetByID retrieves an identity by its ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.get(ctx, "GetIdentityByID", selectIdentityByIDSQL, id)
}

// GetByEmail retrieves an identity by its normalized email address.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.get(ctx, "GetIdentityByEmail", selectIdentityByEmailSQL, domain.NormalizeEmail(email))
}

func (r *IdentityRepository) get(ctx context.Context, op, query string, arg string) (_ *domain.Identity, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	identity, err := scanIdentity(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}

	if identity.IsDoctor() {
		profile, err := r.profiles.Get(ctx, identity.ID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			// Identities created before profiles existed; the doctor completes it later.
		case err != nil:
			return nil, err
		default:
			identity.DoctorProfile = profile
		}
	}

	return identity, nil
}

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var (
		id   domain.Identity
		role string
	)
	err := row.Scan(
		&id.ID,
		&id.Email,
		&id.PasswordHash,
		&id.FirstName,
		&id.LastName,
		&id.Phone,
		&role,
		&id.IsActive,
		&id.EmailVerified,
		&id.PhoneVerified,
		&id.CreatedAt,
		&id.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	if id.Role, err = domain.ParseRole(role); err != nil {
		return nil, fmt.Errorf("scan identity %s: %w", id.ID, err)
	}
	return &id, nil
}

// Update modifies the profile fields of an existing identity. The role and
// the password hash are never written here.
func (r *IdentityRepository) Update(ctx context.Context, id *domain.Identity) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateIdentity", updateIdentitySQL)
	defer func() { end(err) }()

	id.UpdatedAt = time.Now().UTC()

	ct, err := r.db.Exec(ctx, updateIdentitySQL,
		id.Email,
		id.FirstName,
		id.LastName,
		id.Phone,
		id.IsActive,
		id.UpdatedAt,
		id.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("identity", "email", id.Email)
		}
		return fmt.Errorf("update identity: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("identity", id.ID)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.touch(ctx, "UpdatePassword", updatePasswordSQL, id, passwordHash)
}

// SetEmailVerified marks the identity's email as verified.
func (r *IdentityRepository) SetEmailVerified(ctx context.Context, id string) error {
	return r.touch(ctx, "SetEmailVerified", setEmailVerifiedSQL, id)
}

// SetPhoneVerified marks the identity's phone as verified.
func (r *IdentityRepository) SetPhoneVerified(ctx context.Context, id string) error {
	return r.touch(ctx, "SetPhoneVerified", setPhoneVerifiedSQL, id)
}

// touch runs a single-row update whose arguments are values, then
// updated_at, then the identity id.
func (r *IdentityRepository) touch(ctx context.Context, op, query, id string, values ...any) (err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	args := append(values, time.Now().UTC(), id)
	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("identity", id)
	}
	return nil
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func availabilityOrEmpty(a []domain.AvailabilitySlot) []domain.AvailabilitySlot {
	if a == nil {
		return []domain.AvailabilitySlot{}
	}
	return a
}
