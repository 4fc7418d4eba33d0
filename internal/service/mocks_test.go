package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/event"
)

// --- Mock Identity Repository ---

type mockIdentityRepository struct {
	mock.Mock
}

func (m *mockIdentityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *mockIdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepository) Update(ctx context.Context, identity *domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *mockIdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *mockIdentityRepository) SetEmailVerified(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockIdentityRepository) SetPhoneVerified(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Mock Doctor Profile Repository ---

type mockProfileRepository struct {
	mock.Mock
}

func (m *mockProfileRepository) Get(ctx context.Context, identityID string) (*domain.DoctorProfile, error) {
	args := m.Called(ctx, identityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DoctorProfile), args.Error(1)
}

func (m *mockProfileRepository) Update(ctx context.Context, profile *domain.DoctorProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *mockProfileRepository) UpdateVerificationStatus(ctx context.Context, profile *domain.DoctorProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

// --- Mock Refresh Token Repository ---

type mockRefreshTokenRepository struct {
	mock.Mock
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) GetActive(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshTokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, userID, tokenHash string) error {
	args := m.Called(ctx, userID, tokenHash)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// --- Mock Verification Token Repository ---

type mockVerificationRepository struct {
	mock.Mock
}

func (m *mockVerificationRepository) Create(ctx context.Context, token *domain.VerificationToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockVerificationRepository) Consume(ctx context.Context, purpose domain.TokenPurpose, tokenHash string, now time.Time) (*domain.VerificationToken, error) {
	args := m.Called(ctx, purpose, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerificationToken), args.Error(1)
}

// --- Mock Denylist ---

type mockDenylist struct {
	mock.Mock
}

func (m *mockDenylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	args := m.Called(ctx, tokenID, ttl)
	return args.Error(0)
}

func (m *mockDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

// --- Recording event publisher ---

type recordingEvents struct {
	registered   []string
	loggedIn     []string
	loggedOut    []string
	verification []event.VerificationRequestedData
	passwords    []string
	reviewed     []domain.VerificationStatus
}

func (r *recordingEvents) PublishIdentityRegistered(_ context.Context, identity *domain.Identity) error {
	r.registered = append(r.registered, identity.ID)
	return nil
}

func (r *recordingEvents) PublishLoggedIn(_ context.Context, identity *domain.Identity) error {
	r.loggedIn = append(r.loggedIn, identity.ID)
	return nil
}

func (r *recordingEvents) PublishLoggedOut(_ context.Context, userID string) error {
	r.loggedOut = append(r.loggedOut, userID)
	return nil
}

func (r *recordingEvents) PublishVerificationRequested(_ context.Context, req event.VerificationRequestedData) error {
	r.verification = append(r.verification, req)
	return nil
}

func (r *recordingEvents) PublishPasswordChanged(_ context.Context, userID, reason string) error {
	r.passwords = append(r.passwords, userID+":"+reason)
	return nil
}

func (r *recordingEvents) PublishDoctorReviewed(_ context.Context, profile *domain.DoctorProfile) error {
	r.reviewed = append(r.reviewed, profile.VerificationStatus)
	return nil
}
