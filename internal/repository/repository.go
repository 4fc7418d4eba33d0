package repository

import (
	"context"
	"time"

	"github.com/medimantra/telehealth/internal/domain"
)

// IdentityRepository defines the persistence operations of the credential store.
type IdentityRepository interface {
	// Create inserts a new identity. A doctor identity is inserted together
	// with its profile in one transaction.
	Create(ctx context.Context, identity *domain.Identity) error

	// GetByID retrieves an identity by its unique identifier. Doctor
	// identities carry their profile.
	GetByID(ctx context.Context, id string) (*domain.Identity, error)

	// GetByEmail retrieves an identity by its normalized email address.
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)

	// Update modifies the mutable profile fields. The role is never written.
	Update(ctx context.Context, identity *domain.Identity) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetEmailVerified marks the identity's email as verified.
	SetEmailVerified(ctx context.Context, id string) error

	// SetPhoneVerified marks the identity's phone as verified.
	SetPhoneVerified(ctx context.Context, id string) error
}

// TxStores are repositories bound to a single transaction.
type TxStores struct {
	Identities    IdentityRepository
	RefreshTokens RefreshTokenRepository
}

// Transactor runs fn against stores sharing one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(TxStores) error) error
}

// DoctorProfileRepository defines the persistence operations of doctor profiles.
type DoctorProfileRepository interface {
	// Get retrieves the profile of the doctor identity.
	Get(ctx context.Context, identityID string) (*domain.DoctorProfile, error)

	// Update writes the practice details and availability of the profile.
	Update(ctx context.Context, profile *domain.DoctorProfile) error

	// UpdateVerificationStatus records the outcome of an admin review.
	UpdateVerificationStatus(ctx context.Context, profile *domain.DoctorProfile) error
}

// RefreshTokenRepository defines the persistence operations of refresh token records.
type RefreshTokenRepository interface {
	// Create stores a new refresh token hash.
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// GetActive retrieves a record that is neither revoked nor expired at now.
	GetActive(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error)

	// Consume atomically revokes an active record and returns it. Of several
	// concurrent callers presenting the same hash at most one succeeds.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error)

	// Revoke revokes a specific refresh token by its hash, provided it
	// belongs to userID. A hash owned by someone else is left untouched.
	Revoke(ctx context.Context, userID, tokenHash string) error

	// RevokeByUserID revokes all refresh tokens of the given user.
	RevokeByUserID(ctx context.Context, userID string) error
}

// VerificationTokenRepository defines the persistence operations of
// single-use verification secrets.
type VerificationTokenRepository interface {
	// Create stores a new secret and invalidates earlier unconsumed secrets
	// of the same identity and purpose.
	Create(ctx context.Context, token *domain.VerificationToken) error

	// Consume atomically marks the unexpired, unconsumed secret with the
	// given hash as used and returns it.
	Consume(ctx context.Context, purpose domain.TokenPurpose, tokenHash string, now time.Time) (*domain.VerificationToken, error)
}

// Denylist records revoked access token ids until they expire on their own.
type Denylist interface {
	// Revoke denylists tokenID for ttl.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error

	// IsRevoked reports whether tokenID is denylisted.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
