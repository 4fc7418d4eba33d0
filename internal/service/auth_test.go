package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medimantra/telehealth/internal/auth"
	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/repository"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

const (
	testSecret   = "test-secret-that-is-at-least-32-characters"
	testPassword = "Secret123"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc           *AuthService
	issuer        *auth.Issuer
	clock         *testClock
	identities    *mockIdentityRepository
	profiles      *mockProfileRepository
	refreshTokens *mockRefreshTokenRepository
	verifications *mockVerificationRepository
	denylist      *mockDenylist
	events        *recordingEvents
	tx            *recordingTx
}

func newFixture(t *testing.T, rotation bool) *fixture {
	t.Helper()
	f := &fixture{
		clock:         &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		identities:    &mockIdentityRepository{},
		profiles:      &mockProfileRepository{},
		refreshTokens: &mockRefreshTokenRepository{},
		verifications: &mockVerificationRepository{},
		denylist:      &mockDenylist{},
		events:        &recordingEvents{},
	}
	f.issuer = auth.NewIssuer(testSecret, 15*time.Minute, 7*24*time.Hour, auth.WithClock(f.clock.Now))
	f.tx = &recordingTx{stores: repository.TxStores{Identities: f.identities, RefreshTokens: f.refreshTokens}}
	f.svc = NewAuthService(
		Repositories{
			Identities:    f.identities,
			Profiles:      f.profiles,
			RefreshTokens: f.refreshTokens,
			Verifications: f.verifications,
			Denylist:      f.denylist,
			Tx:            f.tx,
		},
		f.issuer,
		f.events,
		Config{
			RefreshRotation:    rotation,
			VerificationExpiry: 24 * time.Hour,
			ResetExpiry:        time.Hour,
			BcryptCost:         bcrypt.MinCost,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(f.clock.Now),
	)
	return f
}

// recordingTx runs fn on the fixture's mocks and counts how the
// transaction would have ended.
type recordingTx struct {
	stores     repository.TxStores
	committed  int
	rolledBack int
}

func (r *recordingTx) WithinTx(_ context.Context, fn func(repository.TxStores) error) error {
	if err := fn(r.stores); err != nil {
		r.rolledBack++
		return err
	}
	r.committed++
	return nil
}

func (f *fixture) expectTokenStored() {
	f.refreshTokens.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func storedIdentity(t *testing.T, id string, role domain.Role) *domain.Identity {
	return &domain.Identity{
		ID:           id,
		Email:        string(role) + "@example.com",
		PasswordHash: mustHash(t, testPassword),
		FirstName:    "Sam",
		LastName:     "Rivera",
		Role:         role,
		IsActive:     true,
	}
}

func assertCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, status, appErr.Status)
	assert.Equal(t, code, appErr.Code)
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister_IssuesVerifiableTokens(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("Create", mock.Anything, mock.AnythingOfType("*domain.Identity")).Return(nil)
	f.expectTokenStored()
	f.verifications.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     "  Pat@Example.com ",
		Password:  testPassword,
		FirstName: "Pat",
		LastName:  "Lee",
		Phone:     "+14155550100",
	})
	require.NoError(t, err)

	assert.Equal(t, "pat@example.com", res.Identity.Email)
	assert.Equal(t, domain.RolePatient, res.Identity.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(res.Identity.PasswordHash), []byte(testPassword)))

	principal, err := f.issuer.Verify(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Identity.ID, principal.UserID)
	assert.Equal(t, domain.RolePatient, principal.Role)

	f.refreshTokens.AssertCalled(t, "Create", mock.Anything, res.Identity.ID, auth.HashToken(res.Tokens.RefreshToken), res.Tokens.RefreshExpiresAt)
	assert.Equal(t, 1, f.tx.committed)
	assert.Equal(t, []string{res.Identity.ID}, f.events.registered)
	require.Len(t, f.events.verification, 2)
	assert.Equal(t, string(domain.PurposeEmailVerification), f.events.verification[0].Purpose)
	assert.Equal(t, string(domain.PurposePhoneVerification), f.events.verification[1].Purpose)
	assert.Len(t, f.events.verification[1].Secret, 6)
}

func TestRegister_DuplicateEmailIsConflictWithoutTokens(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("Create", mock.Anything, mock.Anything).
		Return(apperrors.AlreadyExists("identity", "email", "pat@example.com"))

	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "pat@example.com", Password: testPassword, FirstName: "Pat", LastName: "Lee",
	})

	assert.Nil(t, res)
	assertCode(t, err, http.StatusConflict, apperrors.CodeAlreadyExists)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	f.refreshTokens.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.events.registered)
	assert.Equal(t, 1, f.tx.rolledBack)
}

func TestRegister_TokenStoreFailureRollsBackIdentity(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.refreshTokens.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection reset"))

	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "pat@example.com", Password: testPassword, FirstName: "Pat", LastName: "Lee",
	})

	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store refresh token")
	assert.Equal(t, 1, f.tx.rolledBack)
	assert.Zero(t, f.tx.committed)
	assert.Empty(t, f.events.registered)
	f.verifications.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"missing email", RegisterInput{Password: testPassword, FirstName: "A", LastName: "B"}},
		{"missing first name", RegisterInput{Email: "a@b.c", Password: testPassword, LastName: "B"}},
		{"missing last name", RegisterInput{Email: "a@b.c", Password: testPassword, FirstName: "A"}},
		{"short password", RegisterInput{Email: "a@b.c", Password: "Ab1", FirstName: "A", LastName: "B"}},
		{"password without digit", RegisterInput{Email: "a@b.c", Password: "abcdefghij", FirstName: "A", LastName: "B"}},
		{"password over bcrypt limit", RegisterInput{Email: "a@b.c", Password: strings.Repeat("Ab1", 27), FirstName: "A", LastName: "B"}},
		{"multibyte password over bcrypt limit", RegisterInput{Email: "a@b.c", Password: strings.Repeat("é", 36) + "1", FirstName: "A", LastName: "B"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			_, err := f.svc.Register(context.Background(), tc.input)
			assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)
			f.identities.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestRegisterDoctor_CreatesPendingProfile(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("Create", mock.Anything, mock.MatchedBy(func(i *domain.Identity) bool {
		return i.Role == domain.RoleDoctor &&
			i.DoctorProfile != nil &&
			i.DoctorProfile.IdentityID == i.ID &&
			i.DoctorProfile.VerificationStatus == domain.VerificationPending
	})).Return(nil)
	f.expectTokenStored()
	f.verifications.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := f.svc.RegisterDoctor(context.Background(), RegisterDoctorInput{
		RegisterInput:   RegisterInput{Email: "doc@example.com", Password: testPassword, FirstName: "Ada", LastName: "Park"},
		Specialties:     []string{"cardiology"},
		LicenseNumber:   " LIC-42 ",
		ExperienceYears: 9,
		ConsultationFee: 6000,
	})
	require.NoError(t, err)
	assert.Equal(t, "LIC-42", res.Identity.DoctorProfile.LicenseNumber)
	assert.False(t, res.Identity.DoctorProfile.IsAvailable)

	principal, err := f.issuer.Verify(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDoctor, principal.Role)
}

func TestRegisterDoctor_RequiresLicenseAndSpecialty(t *testing.T) {
	f := newFixture(t, true)
	base := RegisterInput{Email: "doc@example.com", Password: testPassword, FirstName: "Ada", LastName: "Park"}

	_, err := f.svc.RegisterDoctor(context.Background(), RegisterDoctorInput{RegisterInput: base, Specialties: []string{"x"}})
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)

	_, err = f.svc.RegisterDoctor(context.Background(), RegisterDoctorInput{RegisterInput: base, LicenseNumber: "L"})
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_TokenVerifiesToSameIdentity(t *testing.T) {
	f := newFixture(t, true)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	f.identities.On("GetByEmail", mock.Anything, "pat@example.com").Return(patient, nil)
	f.expectTokenStored()

	res, err := f.svc.Login(context.Background(), LoginInput{Email: "pat@example.com", Password: testPassword})
	require.NoError(t, err)

	principal, err := f.issuer.Verify(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "p-1", principal.UserID)
	assert.Equal(t, domain.RolePatient, principal.Role)
	assert.Equal(t, []string{"p-1"}, f.events.loggedIn)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t, true)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	f.identities.On("GetByEmail", mock.Anything, "pat@example.com").Return(patient, nil)
	f.identities.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrNotFound)

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "pat@example.com", Password: "Wrong1234"})
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "ghost@example.com", Password: testPassword})
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)
	assert.Equal(t, "invalid email or password", apperrors.MessageOf(err, ""))

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "pat@example.com"})
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	f := newFixture(t, true)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	patient.IsActive = false
	f.identities.On("GetByEmail", mock.Anything, mock.Anything).Return(patient, nil)

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "pat@example.com", Password: testPassword})
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)
}

func TestLogin_Portals(t *testing.T) {
	tests := []struct {
		name    string
		role    domain.Role
		doctor  bool
		allowed bool
	}{
		{"patient at patient portal", domain.RolePatient, false, true},
		{"admin at patient portal", domain.RoleAdmin, false, true},
		{"doctor at patient portal", domain.RoleDoctor, false, false},
		{"doctor at doctor portal", domain.RoleDoctor, true, true},
		{"patient at doctor portal", domain.RolePatient, true, false},
		{"admin at doctor portal", domain.RoleAdmin, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.identities.On("GetByEmail", mock.Anything, mock.Anything).Return(storedIdentity(t, "id-1", tc.role), nil)
			f.expectTokenStored()

			login := f.svc.Login
			if tc.doctor {
				login = f.svc.LoginDoctor
			}
			res, err := login(context.Background(), LoginInput{Email: "x@example.com", Password: testPassword})

			if tc.allowed {
				require.NoError(t, err)
				assert.NotEmpty(t, res.Tokens.AccessToken)
				return
			}
			assertCode(t, err, http.StatusForbidden, apperrors.CodeForbidden)
			f.refreshTokens.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// ---------------------------------------------------------------------------
// RefreshToken
// ---------------------------------------------------------------------------

func TestRefreshToken_RotationExchangesOnce(t *testing.T) {
	f := newFixture(t, true)
	doctor := storedIdentity(t, "d-1", domain.RoleDoctor)
	pair, err := f.issuer.Issue(doctor)
	require.NoError(t, err)

	hash := auth.HashToken(pair.RefreshToken)
	f.refreshTokens.On("Consume", mock.Anything, hash, mock.Anything).
		Return(&domain.RefreshToken{ID: "rt-1", UserID: "d-1", TokenHash: hash}, nil).Once()
	f.refreshTokens.On("Consume", mock.Anything, hash, mock.Anything).
		Return(nil, apperrors.ErrNotFound)
	f.identities.On("GetByID", mock.Anything, "d-1").Return(doctor, nil)
	f.expectTokenStored()

	res, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, res.Tokens.RefreshToken)
	assert.Equal(t, "d-1", res.Identity.ID)

	principal, err := f.issuer.Verify(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "d-1", principal.UserID)
	assert.Equal(t, domain.RoleDoctor, principal.Role)

	_, err = f.svc.RefreshToken(context.Background(), pair.RefreshToken)
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenRevoked)
}

func TestRefreshToken_WithoutRotationKeepsRefreshToken(t *testing.T) {
	f := newFixture(t, false)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	pair, err := f.issuer.Issue(patient)
	require.NoError(t, err)

	f.refreshTokens.On("GetActive", mock.Anything, auth.HashToken(pair.RefreshToken), mock.Anything).
		Return(&domain.RefreshToken{UserID: "p-1"}, nil)
	f.identities.On("GetByID", mock.Anything, "p-1").Return(patient, nil)

	res, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, res.Tokens.RefreshToken)
	assert.Equal(t, pair.RefreshExpiresAt, res.Tokens.RefreshExpiresAt)
	f.refreshTokens.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.refreshTokens.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshToken_Rejections(t *testing.T) {
	f := newFixture(t, true)
	patient := storedIdentity(t, "p-1", domain.RolePatient)
	pair, err := f.issuer.Issue(patient)
	require.NoError(t, err)

	_, err = f.svc.RefreshToken(context.Background(), "")
	assertCode(t, err, http.StatusBadRequest, apperrors.CodeInvalidInput)

	_, err = f.svc.RefreshToken(context.Background(), "garbage")
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenMalformed)

	_, err = f.svc.RefreshToken(context.Background(), pair.AccessToken)
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenMalformed)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.RefreshToken(context.Background(), pair.RefreshToken)
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenExpired)

	f.refreshTokens.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshToken_RecordOfAnotherUser(t *testing.T) {
	f := newFixture(t, true)
	pair, err := f.issuer.Issue(storedIdentity(t, "p-1", domain.RolePatient))
	require.NoError(t, err)

	f.refreshTokens.On("Consume", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.RefreshToken{UserID: "someone-else"}, nil)

	_, err = f.svc.RefreshToken(context.Background(), pair.RefreshToken)
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenInvalid)
}

// ---------------------------------------------------------------------------
// Authenticate / Logout / CurrentUser
// ---------------------------------------------------------------------------

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, true)
	pair, err := f.issuer.Issue(storedIdentity(t, "p-1", domain.RolePatient))
	require.NoError(t, err)
	principal, err := f.issuer.Verify(pair.AccessToken)
	require.NoError(t, err)

	f.denylist.On("IsRevoked", mock.Anything, principal.TokenID).Return(false, nil).Once()
	got, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.UserID)

	f.denylist.On("IsRevoked", mock.Anything, principal.TokenID).Return(true, nil).Once()
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenRevoked)

	f.denylist.On("IsRevoked", mock.Anything, principal.TokenID).Return(false, errors.New("redis down")).Once()
	got, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err, "denylist outage must not reject valid tokens")
	assert.Equal(t, "p-1", got.UserID)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeTokenExpired)
}

func TestLogout_RevokesPresentedTokens(t *testing.T) {
	f := newFixture(t, true)
	exp := f.clock.Now().Add(15 * time.Minute)

	f.denylist.On("Revoke", mock.Anything, "jti-1", 15*time.Minute).Return(nil)
	f.refreshTokens.On("Revoke", mock.Anything, "p-1", auth.HashToken("refresh-1")).Return(nil)

	err := f.svc.Logout(context.Background(), LogoutInput{
		UserID: "p-1", TokenID: "jti-1", AccessExpiresAt: exp, RefreshToken: "refresh-1",
	})
	require.NoError(t, err)
	f.denylist.AssertExpectations(t)
	f.refreshTokens.AssertExpectations(t)
	f.refreshTokens.AssertNotCalled(t, "RevokeByUserID", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"p-1"}, f.events.loggedOut)
}

func TestLogout_ScopesRevocationToCaller(t *testing.T) {
	f := newFixture(t, true)
	f.refreshTokens.On("Revoke", mock.Anything, "p-2", auth.HashToken("refresh-of-p-1")).Return(nil)

	err := f.svc.Logout(context.Background(), LogoutInput{UserID: "p-2", RefreshToken: "refresh-of-p-1"})
	require.NoError(t, err)

	// The repository only revokes the hash when it belongs to p-2.
	f.refreshTokens.AssertCalled(t, "Revoke", mock.Anything, "p-2", auth.HashToken("refresh-of-p-1"))
	f.refreshTokens.AssertNotCalled(t, "RevokeByUserID", mock.Anything, mock.Anything)
	f.denylist.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything, mock.Anything)
}

func TestLogout_WithoutRefreshTokenRevokesAll(t *testing.T) {
	f := newFixture(t, true)

	f.denylist.On("Revoke", mock.Anything, "jti-1", mock.Anything).Return(errors.New("redis down"))
	f.refreshTokens.On("RevokeByUserID", mock.Anything, "p-1").Return(nil)

	err := f.svc.Logout(context.Background(), LogoutInput{
		UserID: "p-1", TokenID: "jti-1", AccessExpiresAt: f.clock.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	f.refreshTokens.AssertExpectations(t)
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t, true)
	f.identities.On("GetByID", mock.Anything, "p-1").Return(storedIdentity(t, "p-1", domain.RolePatient), nil)
	f.identities.On("GetByID", mock.Anything, "gone").Return(nil, apperrors.ErrNotFound)
	f.identities.On("GetByID", mock.Anything, "db").Return(nil, errors.New("connection reset"))

	got, err := f.svc.CurrentUser(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.ID)

	_, err = f.svc.CurrentUser(context.Background(), "gone")
	assertCode(t, err, http.StatusUnauthorized, apperrors.CodeUnauthorized)

	_, err = f.svc.CurrentUser(context.Background(), "db")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}

func TestTokenRejection(t *testing.T) {
	assert.Equal(t, apperrors.CodeTokenExpired, TokenRejection(&auth.TokenError{Kind: auth.KindExpired}).Code)
	assert.Equal(t, apperrors.CodeTokenMalformed, TokenRejection(&auth.TokenError{Kind: auth.KindMalformed}).Code)
	assert.Equal(t, apperrors.CodeTokenRevoked, TokenRejection(&auth.TokenError{Kind: auth.KindRevoked}).Code)
	assert.Equal(t, apperrors.CodeTokenInvalid, TokenRejection(errors.New("other")).Code)
}
