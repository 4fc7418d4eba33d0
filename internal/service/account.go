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
	"github.com/medimantra/telehealth/internal/event"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

// ForgotPassword sends a reset link to the address if it belongs to an
// identity. The outcome is the same either way.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return apperrors.InvalidInput("email is required")
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("get identity for password reset: %w", err)
	}

	secret, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	if err := s.storeSecret(ctx, identity.ID, domain.PurposePasswordReset, auth.HashToken(secret), s.cfg.ResetExpiry); err != nil {
		return err
	}

	s.logPublishError(ctx, "verification_requested", identity.ID, s.events.PublishVerificationRequested(ctx, event.VerificationRequestedData{
		UserID:      identity.ID,
		Purpose:     string(domain.PurposePasswordReset),
		Destination: identity.Email,
		Secret:      secret,
		ExpiresIn:   int64(s.cfg.ResetExpiry / time.Second),
	}))

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", identity.ID),
	)
	return nil
}

// ResetPassword sets a new password using a reset link secret and signs
// the identity out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return apperrors.InvalidInput("reset token is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	secret, err := s.consumeSecret(ctx, domain.PurposePasswordReset, auth.HashToken(token), "invalid or expired reset token")
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, secret.IdentityID, newPassword, "reset"); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", secret.IdentityID),
	)
	return nil
}

// ChangePassword allows an authenticated identity to change its password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	identity, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	if err := s.setPassword(ctx, identity.ID, newPassword, "change"); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", identity.ID),
	)
	return nil
}

// setPassword stores a new hash and revokes every refresh token so other
// sessions must sign in again.
func (s *AuthService) setPassword(ctx context.Context, userID, password, reason string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.identities.UpdatePassword(ctx, userID, string(hashedPassword)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.refreshTokens.RevokeByUserID(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after password "+reason,
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logPublishError(ctx, "password_changed", userID, s.events.PublishPasswordChanged(ctx, userID, reason))
	return nil
}

// VerifyEmail consumes an email verification secret.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.InvalidInput("verification token is required")
	}

	secret, err := s.consumeSecret(ctx, domain.PurposeEmailVerification, auth.HashToken(token), "invalid or expired verification token")
	if err != nil {
		return err
	}

	if err := s.identities.SetEmailVerified(ctx, secret.IdentityID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("user_id", secret.IdentityID),
	)
	return nil
}

// ResendVerificationEmail issues a new email verification link. Unknown and
// already verified addresses are acknowledged without sending anything.
func (s *AuthService) ResendVerificationEmail(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return apperrors.InvalidInput("email is required")
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get identity for email verification: %w", err)
	}
	if identity.EmailVerified {
		return nil
	}

	return s.requestEmailVerification(ctx, identity)
}

// VerifyPhone consumes the OTP texted to phone.
func (s *AuthService) VerifyPhone(ctx context.Context, phone, otp string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" || otp == "" {
		return apperrors.InvalidInput("phone and otp are required")
	}

	secret, err := s.consumeSecret(ctx, domain.PurposePhoneVerification, phoneOTPHash(phone, otp), "invalid or expired code")
	if err != nil {
		return err
	}

	if err := s.identities.SetPhoneVerified(ctx, secret.IdentityID); err != nil {
		return fmt.Errorf("mark phone verified: %w", err)
	}

	s.logger.InfoContext(ctx, "phone verified",
		slog.String("user_id", secret.IdentityID),
	)
	return nil
}

// ResendPhoneOTP texts a new code to the phone on file for email.
func (s *AuthService) ResendPhoneOTP(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return apperrors.InvalidInput("email is required")
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get identity for phone verification: %w", err)
	}
	if identity.Phone == "" {
		return apperrors.InvalidInput("no phone number on file")
	}
	if identity.PhoneVerified {
		return nil
	}

	return s.requestPhoneVerification(ctx, identity)
}

func (s *AuthService) requestEmailVerification(ctx context.Context, identity *domain.Identity) error {
	secret, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	if err := s.storeSecret(ctx, identity.ID, domain.PurposeEmailVerification, auth.HashToken(secret), s.cfg.VerificationExpiry); err != nil {
		return err
	}

	s.logPublishError(ctx, "verification_requested", identity.ID, s.events.PublishVerificationRequested(ctx, event.VerificationRequestedData{
		UserID:      identity.ID,
		Purpose:     string(domain.PurposeEmailVerification),
		Destination: identity.Email,
		Secret:      secret,
		ExpiresIn:   int64(s.cfg.VerificationExpiry / time.Second),
	}))
	return nil
}

func (s *AuthService) requestPhoneVerification(ctx context.Context, identity *domain.Identity) error {
	otp, err := auth.NewOTP()
	if err != nil {
		return err
	}
	if err := s.storeSecret(ctx, identity.ID, domain.PurposePhoneVerification, phoneOTPHash(identity.Phone, otp), phoneOTPExpiry); err != nil {
		return err
	}

	s.logPublishError(ctx, "verification_requested", identity.ID, s.events.PublishVerificationRequested(ctx, event.VerificationRequestedData{
		UserID:      identity.ID,
		Purpose:     string(domain.PurposePhoneVerification),
		Destination: identity.Phone,
		Secret:      otp,
		ExpiresIn:   int64(phoneOTPExpiry / time.Second),
	}))
	return nil
}

func (s *AuthService) storeSecret(ctx context.Context, identityID string, purpose domain.TokenPurpose, hash string, ttl time.Duration) error {
	now := s.now().UTC()
	err := s.verifications.Create(ctx, &domain.VerificationToken{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Purpose:    purpose,
		TokenHash:  hash,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("store %s token: %w", purpose, err)
	}
	return nil
}

// consumeSecret redeems a single-use secret. Unknown, used and expired
// secrets are indistinguishable to the caller.
func (s *AuthService) consumeSecret(ctx context.Context, purpose domain.TokenPurpose, hash, rejection string) (*domain.VerificationToken, error) {
	secret, err := s.verifications.Consume(ctx, purpose, hash, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized(rejection)
		}
		return nil, fmt.Errorf("consume %s token: %w", purpose, err)
	}
	return secret, nil
}

// phoneOTPHash binds a code to the number it was sent to.
func phoneOTPHash(phone, otp string) string {
	return auth.HashToken(phone + ":" + otp)
}
