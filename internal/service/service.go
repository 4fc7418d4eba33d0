package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/medimantra/telehealth/internal/auth"
	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/event"
	"github.com/medimantra/telehealth/internal/repository"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// phoneOTPExpiry bounds how long a texted code stays valid.
const phoneOTPExpiry = 10 * time.Minute

// EventPublisher publishes auth domain events. Publishing is best-effort:
// failures are logged and never fail the operation that caused them.
type EventPublisher interface {
	PublishIdentityRegistered(ctx context.Context, identity *domain.Identity) error
	PublishLoggedIn(ctx context.Context, identity *domain.Identity) error
	PublishLoggedOut(ctx context.Context, userID string) error
	PublishVerificationRequested(ctx context.Context, req event.VerificationRequestedData) error
	PublishPasswordChanged(ctx context.Context, userID, reason string) error
	PublishDoctorReviewed(ctx context.Context, profile *domain.DoctorProfile) error
}

// Config holds the policy knobs of AuthService.
type Config struct {
	// RefreshRotation consumes a refresh token on exchange and hands out a
	// new one. When false the token stays valid until it expires.
	RefreshRotation    bool
	VerificationExpiry time.Duration
	ResetExpiry        time.Duration
	BcryptCost         int
}

// Repositories bundles the stores AuthService reads and writes.
type Repositories struct {
	Identities    repository.IdentityRepository
	Profiles      repository.DoctorProfileRepository
	RefreshTokens repository.RefreshTokenRepository
	Verifications repository.VerificationTokenRepository
	Denylist      repository.Denylist
	// Tx groups the writes of a registration. Nil runs them directly on
	// Identities and RefreshTokens.
	Tx repository.Transactor
}

// AuthService implements registration, login, token exchange, logout and
// the account maintenance flows around them.
type AuthService struct {
	identities    repository.IdentityRepository
	profiles      repository.DoctorProfileRepository
	refreshTokens repository.RefreshTokenRepository
	verifications repository.VerificationTokenRepository
	denylist      repository.Denylist
	tx            repository.Transactor
	issuer        *auth.Issuer
	events        EventPublisher
	cfg           Config
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService creates a new auth service.
func NewAuthService(
	repos Repositories,
	issuer *auth.Issuer,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *AuthService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	s := &AuthService{
		identities:    repos.Identities,
		profiles:      repos.Profiles,
		refreshTokens: repos.RefreshTokens,
		verifications: repos.Verifications,
		denylist:      repos.Denylist,
		tx:            repos.Tx,
		issuer:        issuer,
		events:        events,
		cfg:           cfg,
		now:           time.Now,
		logger:        logger,
	}
	if s.tx == nil {
		s.tx = directTx{repository.TxStores{Identities: repos.Identities, RefreshTokens: repos.RefreshTokens}}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// directTx runs fn on stores without a transaction.
type directTx struct {
	stores repository.TxStores
}

func (d directTx) WithinTx(_ context.Context, fn func(repository.TxStores) error) error {
	return fn(d.stores)
}

// TokenRejection converts a token verification failure into the 401 the
// gateway and the exchange endpoint answer with.
func TokenRejection(err error) *apperrors.AppError {
	switch auth.KindOf(err) {
	case auth.KindExpired:
		return apperrors.TokenRejected(apperrors.CodeTokenExpired, "token has expired")
	case auth.KindMalformed:
		return apperrors.TokenRejected(apperrors.CodeTokenMalformed, "token is malformed")
	case auth.KindRevoked:
		return apperrors.TokenRejected(apperrors.CodeTokenRevoked, "token has been revoked")
	default:
		return apperrors.TokenRejected(apperrors.CodeTokenInvalid, "token is invalid")
	}
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	// bcrypt refuses longer inputs.
	if len(password) > maxPasswordBytes {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}

	var hasLetter, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsLetter(ch):
			hasLetter = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one letter and one digit")
	}
	return nil
}

// logPublishError records a failed best-effort event publication.
func (s *AuthService) logPublishError(ctx context.Context, what, userID string, err error) {
	if err == nil {
		return
	}
	s.logger.ErrorContext(ctx, "failed to publish "+what+" event",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
}
