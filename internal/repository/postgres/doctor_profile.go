package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/pkg/database"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

const (
	selectDoctorProfileSQL = `
		SELECT identity_id, specialties, license_number, experience_years, consultation_fee, bio,
		       verification_status, verification_documents, availability, is_available, created_at, updated_at
		FROM doctor_profiles
		WHERE identity_id = $1`

	updateDoctorProfileSQL = `
		UPDATE doctor_profiles
		SET specialties = $1, license_number = $2, experience_years = $3, consultation_fee = $4, bio = $5,
		    verification_documents = $6, availability = $7, updated_at = $8
		WHERE identity_id = $9`

	updateVerificationStatusSQL = `
		UPDATE doctor_profiles
		SET verification_status = $1, is_available = $2, updated_at = $3
		WHERE identity_id = $4`
)

// DoctorProfileRepository implements repository.DoctorProfileRepository using PostgreSQL.
type DoctorProfileRepository struct {
	db database.DBTX
}

// NewDoctorProfileRepository creates a new PostgreSQL-backed doctor profile repository.
func NewDoctorProfileRepository(db database.DBTX) *DoctorProfileRepository {
	return &DoctorProfileRepository{db: db}
}

// Get retrieves the profile of a doctor identity.
func (r *DoctorProfileRepository) Get(ctx context.Context, identityID string) (_ *domain.DoctorProfile, err error) {
	ctx, end := database.TraceQuery(ctx, "GetDoctorProfile", selectDoctorProfileSQL)
	defer func() { end(err) }()

	var (
		p            domain.DoctorProfile
		status       string
		availability []byte
	)
	err = r.db.QueryRow(ctx, selectDoctorProfileSQL, identityID).Scan(
		&p.IdentityID,
		&p.Specialties,
		&p.LicenseNumber,
		&p.ExperienceYears,
		&p.ConsultationFee,
		&p.Bio,
		&status,
		&p.VerificationDocuments,
		&availability,
		&p.IsAvailable,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan doctor profile: %w", err)
	}

	p.VerificationStatus = domain.VerificationStatus(status)
	if len(availability) > 0 {
		if err := json.Unmarshal(availability, &p.Availability); err != nil {
			return nil, fmt.Errorf("decode availability of %s: %w", identityID, err)
		}
	}
	return &p, nil
}

// Update writes the practice details of the profile. Verification status is
// changed only through UpdateVerificationStatus.
func (r *DoctorProfileRepository) Update(ctx context.Context, p *domain.DoctorProfile) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateDoctorProfile", updateDoctorProfileSQL)
	defer func() { end(err) }()

	availability, err := json.Marshal(availabilityOrEmpty(p.Availability))
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	ct, err := r.db.Exec(ctx, updateDoctorProfileSQL,
		stringsOrEmpty(p.Specialties),
		p.LicenseNumber,
		p.ExperienceYears,
		p.ConsultationFee,
		p.Bio,
		stringsOrEmpty(p.VerificationDocuments),
		availability,
		p.UpdatedAt,
		p.IdentityID,
	)
	if err != nil {
		return fmt.Errorf("update doctor profile: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("doctor profile", p.IdentityID)
	}
	return nil
}

// UpdateVerificationStatus records the outcome of an admin review.
func (r *DoctorProfileRepository) UpdateVerificationStatus(ctx context.Context, p *domain.DoctorProfile) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateVerificationStatus", updateVerificationStatusSQL)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, updateVerificationStatusSQL,
		string(p.VerificationStatus),
		p.IsAvailable,
		p.UpdatedAt,
		p.IdentityID,
	)
	if err != nil {
		return fmt.Errorf("update verification status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("doctor profile", p.IdentityID)
	}
	return nil
}
