package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medimantra/telehealth/internal/auth"
	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/repository"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

// Portal is the login entry point a credential was presented at.
type Portal int

const (
	PortalPatient Portal = iota
	PortalDoctor
)

// RegisterInput holds the parameters for registering a patient.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// RegisterDoctorInput holds the parameters for registering a doctor.
type RegisterDoctorInput struct {
	RegisterInput
	Specialties     []string
	LicenseNumber   string
	ExperienceYears int
	ConsultationFee int64
	Bio             string
	Availability    []domain.AvailabilitySlot
}

// LoginInput holds the parameters for a password login.
type LoginInput struct {
	Email    string
	Password string
}

// LogoutInput identifies what a logout revokes. RefreshToken is optional;
// without it every refresh token of the user is revoked.
type LogoutInput struct {
	UserID          string
	TokenID         string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// AuthResult is an authenticated identity with a fresh token pair.
type AuthResult struct {
	Identity *domain.Identity
	Tokens   *domain.TokenPair
}

// Register creates a patient identity and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	identity, err := s.newIdentity(input, domain.RolePatient)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, identity)
}

// RegisterDoctor creates a doctor identity with a pending profile and signs it in.
func (s *AuthService) RegisterDoctor(ctx context.Context, input RegisterDoctorInput) (*AuthResult, error) {
	if strings.TrimSpace(input.LicenseNumber) == "" {
		return nil, apperrors.InvalidInput("license number is required")
	}
	if len(input.Specialties) == 0 {
		return nil, apperrors.InvalidInput("at least one specialty is required")
	}
	if input.ExperienceYears < 0 || input.ConsultationFee < 0 {
		return nil, apperrors.InvalidInput("experience and fee must not be negative")
	}

	identity, err := s.newIdentity(input.RegisterInput, domain.RoleDoctor)
	if err != nil {
		return nil, err
	}
	identity.DoctorProfile = &domain.DoctorProfile{
		IdentityID:         identity.ID,
		Specialties:        input.Specialties,
		LicenseNumber:      strings.TrimSpace(input.LicenseNumber),
		ExperienceYears:    input.ExperienceYears,
		ConsultationFee:    input.ConsultationFee,
		Bio:                input.Bio,
		VerificationStatus: domain.VerificationPending,
		Availability:       input.Availability,
		CreatedAt:          identity.CreatedAt,
		UpdatedAt:          identity.UpdatedAt,
	}
	return s.register(ctx, identity)
}

func (s *AuthService) newIdentity(input RegisterInput, role domain.Role) (*domain.Identity, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if strings.TrimSpace(input.FirstName) == "" {
		return nil, apperrors.InvalidInput("first name is required")
	}
	if strings.TrimSpace(input.LastName) == "" {
		return nil, apperrors.InvalidInput("last name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	return &domain.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Phone:        strings.TrimSpace(input.Phone),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// register stores identity and its first refresh token in one transaction,
// so a rejected duplicate never receives tokens and a failed token write
// leaves no account behind.
func (s *AuthService) register(ctx context.Context, identity *domain.Identity) (*AuthResult, error) {
	var tokens *domain.TokenPair
	err := s.tx.WithinTx(ctx, func(stores repository.TxStores) error {
		if err := stores.Identities.Create(ctx, identity); err != nil {
			return fmt.Errorf("create identity: %w", err)
		}
		var err error
		tokens, err = s.issueTokensTo(ctx, stores.RefreshTokens, identity)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logPublishError(ctx, "identity_registered", identity.ID, s.events.PublishIdentityRegistered(ctx, identity))

	if err := s.requestEmailVerification(ctx, identity); err != nil {
		s.logger.ErrorContext(ctx, "failed to request email verification",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}
	if identity.Phone != "" {
		if err := s.requestPhoneVerification(ctx, identity); err != nil {
			s.logger.ErrorContext(ctx, "failed to request phone verification",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "identity registered",
		slog.String("user_id", identity.ID),
		slog.String("role", identity.Role.String()),
	)

	return &AuthResult{Identity: identity, Tokens: tokens}, nil
}

// Login authenticates a patient or admin at the patient portal.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	return s.login(ctx, input, PortalPatient)
}

// LoginDoctor authenticates a doctor at the doctor portal.
func (s *AuthService) LoginDoctor(ctx context.Context, input LoginInput) (*AuthResult, error) {
	return s.login(ctx, input, PortalDoctor)
}

func (s *AuthService) login(ctx context.Context, input LoginInput, portal Portal) (*AuthResult, error) {
	if strings.TrimSpace(input.Email) == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	identity, err := s.identities.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("invalid email or password")
		}
		return nil, fmt.Errorf("get identity for login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(input.Password)); err != nil {
		return nil, apperrors.Unauthorized("invalid email or password")
	}

	if !identity.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	// Credentials are correct from here on, so a portal mismatch is an
	// authorization failure rather than an authentication one.
	denial, err := domain.MatchRole(identity.Role,
		func() string {
			if portal == PortalDoctor {
				return "access denied: not a doctor account"
			}
			return ""
		},
		func() string {
			if portal == PortalPatient {
				return "doctors must sign in through the doctor portal"
			}
			return ""
		},
		func() string {
			if portal == PortalDoctor {
				return "access denied: not a doctor account"
			}
			return ""
		},
	)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if denial != "" {
		return nil, apperrors.Forbidden(denial)
	}

	tokens, err := s.issueTokens(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.logPublishError(ctx, "session_logged_in", identity.ID, s.events.PublishLoggedIn(ctx, identity))

	s.logger.InfoContext(ctx, "identity logged in",
		slog.String("user_id", identity.ID),
		slog.String("role", identity.Role.String()),
	)

	return &AuthResult{Identity: identity, Tokens: tokens}, nil
}

// RefreshToken exchanges a refresh token for a new pair. With rotation the
// presented token is consumed, so it succeeds at most once.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, TokenRejection(err)
	}

	tokenHash := auth.HashToken(refreshToken)
	now := s.now().UTC()

	var stored *domain.RefreshToken
	if s.cfg.RefreshRotation {
		stored, err = s.refreshTokens.Consume(ctx, tokenHash, now)
	} else {
		stored, err = s.refreshTokens.GetActive(ctx, tokenHash, now)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, TokenRejection(&auth.TokenError{Kind: auth.KindRevoked, Err: err})
		}
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}
	if stored.UserID != claims.UserID {
		return nil, TokenRejection(&auth.TokenError{Kind: auth.KindUnknown})
	}

	identity, err := s.identities.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, TokenRejection(&auth.TokenError{Kind: auth.KindUnknown, Err: err})
		}
		return nil, fmt.Errorf("get identity for token refresh: %w", err)
	}
	if !identity.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	var tokens *domain.TokenPair
	if s.cfg.RefreshRotation {
		tokens, err = s.issueTokens(ctx, identity)
		if err != nil {
			return nil, err
		}
	} else {
		tokens, err = s.issuer.Issue(identity)
		if err != nil {
			return nil, fmt.Errorf("issue tokens: %w", err)
		}
		tokens.RefreshToken = refreshToken
		tokens.RefreshExpiresAt = claims.ExpiresAt
	}

	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", identity.ID),
	)

	return &AuthResult{Identity: identity, Tokens: tokens}, nil
}

// Authenticate verifies an access token and checks it against the denylist.
// A denylist that cannot be reached does not lock everyone out.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*auth.Principal, error) {
	principal, err := s.issuer.Verify(accessToken)
	if err != nil {
		return nil, TokenRejection(err)
	}

	revoked, err := s.denylist.IsRevoked(ctx, principal.TokenID)
	if err != nil {
		s.logger.WarnContext(ctx, "denylist lookup failed, accepting token",
			slog.String("user_id", principal.UserID),
			slog.String("error", err.Error()),
		)
		return principal, nil
	}
	if revoked {
		return nil, TokenRejection(&auth.TokenError{Kind: auth.KindRevoked})
	}
	return principal, nil
}

// Logout denylists the presented access token until it expires and revokes
// refresh tokens: the supplied one, or all of the user's.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	if input.TokenID != "" {
		ttl := input.AccessExpiresAt.Sub(s.now())
		if err := s.denylist.Revoke(ctx, input.TokenID, ttl); err != nil {
			s.logger.ErrorContext(ctx, "failed to denylist access token",
				slog.String("user_id", input.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	if input.RefreshToken != "" {
		if err := s.refreshTokens.Revoke(ctx, input.UserID, auth.HashToken(input.RefreshToken)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	} else if err := s.refreshTokens.RevokeByUserID(ctx, input.UserID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.logPublishError(ctx, "session_logged_out", input.UserID, s.events.PublishLoggedOut(ctx, input.UserID))

	s.logger.InfoContext(ctx, "identity logged out",
		slog.String("user_id", input.UserID),
	)
	return nil
}

// CurrentUser returns the identity behind an authenticated request.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.Identity, error) {
	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("identity no longer exists")
		}
		return nil, fmt.Errorf("get current identity: %w", err)
	}
	if !identity.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}
	return identity, nil
}

// issueTokens signs a new pair and stores the refresh token hash.
func (s *AuthService) issueTokens(ctx context.Context, identity *domain.Identity) (*domain.TokenPair, error) {
	return s.issueTokensTo(ctx, s.refreshTokens, identity)
}

func (s *AuthService) issueTokensTo(ctx context.Context, store repository.RefreshTokenRepository, identity *domain.Identity) (*domain.TokenPair, error) {
	tokens, err := s.issuer.Issue(identity)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	if err := store.Create(ctx, identity.ID, auth.HashToken(tokens.RefreshToken), tokens.RefreshExpiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return tokens, nil
}
