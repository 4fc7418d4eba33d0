package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medimantra/telehealth/internal/auth"
	"github.com/medimantra/telehealth/internal/domain"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrNotFound)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ghost@example.com"))
	f.verifications.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Empty(t, f.events.verification)
}

func TestForgotPassword_ThenResetPassword(t *testing.T) {
	f := newFixture(t, true)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	f.identities.On("GetByEmail", mock.Anything, patient.Email).Return(patient, nil)

	var stored *domain.VerificationToken
	f.verifications.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*domain.VerificationToken) }).
		Return(nil)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), patient.Email))
	require.Len(t, f.events.verification, 1)
	req := f.events.verification[0]
	assert.Equal(t, patient.Email, req.Destination)
	assert.Equal(t, int64(3600), req.ExpiresIn)

	require.NotNil(t, stored)
	assert.Equal(t, domain.PurposePasswordReset, stored.Purpose)
	assert.Equal(t, auth.HashToken(req.Secret), stored.TokenHash)
	assert.NotEqual(t, req.Secret, stored.TokenHash)
	assert.Equal(t, f.clock.Now().Add(time.Hour), stored.ExpiresAt)

	f.verifications.On("Consume", mock.Anything, domain.PurposePasswordReset, stored.TokenHash, mock.Anything).
		Return(&domain.VerificationToken{IdentityID: "p-1"}, nil)
	var newHash string
	f.identities.On("UpdatePassword", mock.Anything, "p-1", mock.Anything).
		Run(func(args mock.Arguments) { newHash = args.String(2) }).
		Return(nil)
	f.refreshTokens.On("RevokeByUserID", mock.Anything, "p-1").Return(nil)

	require.NoError(t, f.svc.ResetPassword(context.Background(), req.Secret, "NewSecret456"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(newHash), []byte("NewSecret456")))
	f.refreshTokens.AssertExpectations(t)
	assert.Equal(t, []string{"p-1:reset"}, f.events.passwords)
}

func TestResetPassword_InvalidToken(t *testing.T) {
	f := newFixture(t, true)
	f.verifications.On("Consume", mock.Anything, domain.PurposePasswordReset, mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound)

	err := f.svc.ResetPassword(context.Background(), "used-or-unknown", "NewSecret456")
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)

	err = f.svc.ResetPassword(context.Background(), "token", "weak")
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)

	err = f.svc.ResetPassword(context.Background(), "token", strings.Repeat("Ab1", 25))
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)
	f.identities.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("GetByID", mock.Anything, "p-1").Return(storedIdentity(t, "p-1", domain.RolePatient), nil)
	f.identities.On("UpdatePassword", mock.Anything, "p-1", mock.Anything).Return(nil)
	f.refreshTokens.On("RevokeByUserID", mock.Anything, "p-1").Return(errors.New("db down"))

	err := f.svc.ChangePassword(context.Background(), "p-1", "Wrong1234", "NewSecret456")
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)

	err = f.svc.ChangePassword(context.Background(), "p-1", testPassword, testPassword)
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)

	require.NoError(t, f.svc.ChangePassword(context.Background(), "p-1", testPassword, "NewSecret456"))
	f.identities.AssertCalled(t, "UpdatePassword", mock.Anything, "p-1", mock.Anything)
	assert.Equal(t, []string{"p-1:change"}, f.events.passwords)
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t, true)
	f.verifications.On("Consume", mock.Anything, domain.PurposeEmailVerification, auth.HashToken("link-secret"), f.clock.Now()).
		Return(&domain.VerificationToken{IdentityID: "p-1"}, nil).Once()
	f.verifications.On("Consume", mock.Anything, domain.PurposeEmailVerification, mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound)
	f.identities.On("SetEmailVerified", mock.Anything, "p-1").Return(nil)

	require.NoError(t, f.svc.VerifyEmail(context.Background(), "link-secret"))
	f.identities.AssertExpectations(t)

	err := f.svc.VerifyEmail(context.Background(), "link-secret")
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)

	err = f.svc.VerifyEmail(context.Background(), "")
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)
}

func TestResendVerificationEmail(t *testing.T) {
	f := newFixture(t, true)
	unverified := storedIdentity(t, "p-1", domain.RolePatient)
	verified := storedIdentity(t, "p-2", domain.RolePatient)
	verified.EmailVerified = true

	f.identities.On("GetByEmail", mock.Anything, "new@example.com").Return(unverified, nil)
	f.identities.On("GetByEmail", mock.Anything, "done@example.com").Return(verified, nil)
	f.identities.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrNotFound)
	f.verifications.On("Create", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.ResendVerificationEmail(context.Background(), "ghost@example.com"))
	require.NoError(t, f.svc.ResendVerificationEmail(context.Background(), "done@example.com"))
	assert.Empty(t, f.events.verification)

	require.NoError(t, f.svc.ResendVerificationEmail(context.Background(), "new@example.com"))
	require.Len(t, f.events.verification, 1)
	assert.Equal(t, string(domain.PurposeEmailVerification), f.events.verification[0].Purpose)
}

func TestPhoneVerification(t *testing.T) {
	f := newFixture(t, true)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	patient.Phone = "+14155550100"
	f.identities.On("GetByEmail", mock.Anything, patient.Email).Return(patient, nil)

	var stored *domain.VerificationToken
	f.verifications.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*domain.VerificationToken) }).
		Return(nil)

	require.NoError(t, f.svc.ResendPhoneOTP(context.Background(), patient.Email))
	require.Len(t, f.events.verification, 1)
	otp := f.events.verification[0].Secret
	assert.Equal(t, patient.Phone, f.events.verification[0].Destination)
	assert.Equal(t, phoneOTPHash(patient.Phone, otp), stored.TokenHash)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), stored.ExpiresAt)

	f.verifications.On("Consume", mock.Anything, domain.PurposePhoneVerification, phoneOTPHash(patient.Phone, otp), mock.Anything).
		Return(stored, nil)
	f.identities.On("SetPhoneVerified", mock.Anything, "p-1").Return(nil)

	require.NoError(t, f.svc.VerifyPhone(context.Background(), " "+patient.Phone+" ", otp))
	f.identities.AssertCalled(t, "SetPhoneVerified", mock.Anything, "p-1")
}

func TestResendPhoneOTP_NoPhoneOnFile(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("GetByEmail", mock.Anything, mock.Anything).Return(storedIdentity(t, "p-1", domain.RolePatient), nil)

	err := f.svc.ResendPhoneOTP(context.Background(), "patient@example.com")
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, validatePassword("Secret123"))
	assert.NoError(t, validatePassword("lowercase9"))
	assert.Error(t, validatePassword("short1"))
	assert.Error(t, validatePassword("12345678"))
	assert.Error(t, validatePassword("abcdefgh"))
	assert.NoError(t, validatePassword(strings.Repeat("Ab1", 24)))
	assert.Error(t, validatePassword(strings.Repeat("Ab1", 24)+"x"))
}
