package http

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/event"
)

type mockIdentityRepo struct {
	mock.Mock
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *domain.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *mockIdentityRepo) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepo) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepo) Update(ctx context.Context, identity *domain.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *mockIdentityRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

func (m *mockIdentityRepo) SetEmailVerified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockIdentityRepo) SetPhoneVerified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockProfileRepo struct {
	mock.Mock
}

func (m *mockProfileRepo) Get(ctx context.Context, identityID string) (*domain.DoctorProfile, error) {
	args := m.Called(ctx, identityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DoctorProfile), args.Error(1)
}

func (m *mockProfileRepo) Update(ctx context.Context, profile *domain.DoctorProfile) error {
	return m.Called(ctx, profile).Error(0)
}

func (m *mockProfileRepo) UpdateVerificationStatus(ctx context.Context, profile *domain.DoctorProfile) error {
	return m.Called(ctx, profile).Error(0)
}

type mockRefreshRepo struct {
	mock.Mock
}

func (m *mockRefreshRepo) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return m.Called(ctx, userID, tokenHash, expiresAt).Error(0)
}

func (m *mockRefreshRepo) GetActive(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshRepo) Revoke(ctx context.Context, userID, tokenHash string) error {
	return m.Called(ctx, userID, tokenHash).Error(0)
}

func (m *mockRefreshRepo) RevokeByUserID(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockVerificationRepo struct {
	mock.Mock
}

func (m *mockVerificationRepo) Create(ctx context.Context, token *domain.VerificationToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockVerificationRepo) Consume(ctx context.Context, purpose domain.TokenPurpose, tokenHash string, now time.Time) (*domain.VerificationToken, error) {
	args := m.Called(ctx, purpose, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerificationToken), args.Error(1)
}

type mockDenylist struct {
	mock.Mock
}

func (m *mockDenylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return m.Called(ctx, tokenID, ttl).Error(0)
}

func (m *mockDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

type nopEvents struct{}

func (nopEvents) PublishIdentityRegistered(context.Context, *domain.Identity) error {
	return nil
}

func (nopEvents) PublishLoggedIn(context.Context, *domain.Identity) error {
	return nil
}

func (nopEvents) PublishLoggedOut(context.Context, string) error {
	return nil
}

func (nopEvents) PublishVerificationRequested(context.Context, event.VerificationRequestedData) error {
	return nil
}

func (nopEvents) PublishPasswordChanged(context.Context, string, string) error {
	return nil
}

func (nopEvents) PublishDoctorReviewed(context.Context, *domain.DoctorProfile) error {
	return nil
}
