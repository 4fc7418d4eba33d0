package domain

import "time"

// TokenPair is what login, registration and refresh hand to the client.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// RefreshToken is the stored revocation record of an issued refresh token.
// Only the SHA-256 of the token is kept.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// TokenPurpose distinguishes single-use verification secrets.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePhoneVerification TokenPurpose = "phone_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// VerificationToken is a stored single-use secret (email link, phone OTP or
// password reset). Only the SHA-256 of the secret is kept.
type VerificationToken struct {
	ID         string       `json:"id"`
	IdentityID string       `json:"identityId"`
	Purpose    TokenPurpose `json:"purpose"`
	TokenHash  string       `json:"-"`
	ExpiresAt  time.Time    `json:"expiresAt"`
	ConsumedAt *time.Time   `json:"consumedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}
