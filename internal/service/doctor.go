package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medimantra/telehealth/internal/domain"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

// CompleteProfileInput holds the practice details a doctor submits after
// registration. VerificationDocuments are references to stored uploads.
type CompleteProfileInput struct {
	Specialties           []string
	LicenseNumber         string
	ExperienceYears       int
	ConsultationFee       int64
	Bio                   string
	Availability          []domain.AvailabilitySlot
	VerificationDocuments []string
}

// GetDoctorProfile returns the profile of a doctor identity.
func (s *AuthService) GetDoctorProfile(ctx context.Context, doctorID string) (*domain.DoctorProfile, error) {
	profile, err := s.profiles.Get(ctx, doctorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("doctor profile", doctorID)
		}
		return nil, fmt.Errorf("get doctor profile: %w", err)
	}
	return profile, nil
}

// CompleteDoctorProfile updates the practice details of a doctor. A rejected
// profile goes back to pending review when resubmitted.
func (s *AuthService) CompleteDoctorProfile(ctx context.Context, doctorID string, input CompleteProfileInput) (*domain.DoctorProfile, error) {
	if len(input.Specialties) == 0 {
		return nil, apperrors.InvalidInput("at least one specialty is required")
	}
	if strings.TrimSpace(input.LicenseNumber) == "" {
		return nil, apperrors.InvalidInput("license number is required")
	}
	if input.ExperienceYears < 0 || input.ConsultationFee < 0 {
		return nil, apperrors.InvalidInput("experience and fee must not be negative")
	}

	profile, err := s.GetDoctorProfile(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	profile.Specialties = input.Specialties
	profile.LicenseNumber = strings.TrimSpace(input.LicenseNumber)
	profile.ExperienceYears = input.ExperienceYears
	profile.ConsultationFee = input.ConsultationFee
	profile.Bio = input.Bio
	profile.Availability = input.Availability
	if input.VerificationDocuments != nil {
		profile.VerificationDocuments = input.VerificationDocuments
	}
	profile.UpdatedAt = now

	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, fmt.Errorf("update doctor profile: %w", err)
	}

	if profile.VerificationStatus == domain.VerificationRejected {
		if err := profile.Review(domain.VerificationPending, now); err != nil {
			return nil, fmt.Errorf("resubmit doctor profile: %w", err)
		}
		if err := s.profiles.UpdateVerificationStatus(ctx, profile); err != nil {
			return nil, fmt.Errorf("resubmit doctor profile: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "doctor profile completed",
		slog.String("user_id", doctorID),
		slog.String("verification_status", string(profile.VerificationStatus)),
	)
	return profile, nil
}

// VerifyDoctor approves a doctor profile.
func (s *AuthService) VerifyDoctor(ctx context.Context, doctorID string) (*domain.DoctorProfile, error) {
	return s.review(ctx, doctorID, domain.VerificationVerified)
}

// RejectDoctor rejects a doctor profile.
func (s *AuthService) RejectDoctor(ctx context.Context, doctorID string) (*domain.DoctorProfile, error) {
	return s.review(ctx, doctorID, domain.VerificationRejected)
}

func (s *AuthService) review(ctx context.Context, doctorID string, status domain.VerificationStatus) (*domain.DoctorProfile, error) {
	profile, err := s.GetDoctorProfile(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	if err := profile.Review(status, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrStatusUnchanged) {
			return nil, apperrors.Conflict(fmt.Sprintf("doctor is already %s", status))
		}
		return nil, err
	}

	if err := s.profiles.UpdateVerificationStatus(ctx, profile); err != nil {
		return nil, fmt.Errorf("update verification status: %w", err)
	}

	s.logPublishError(ctx, "doctor_reviewed", doctorID, s.events.PublishDoctorReviewed(ctx, profile))

	s.logger.InfoContext(ctx, "doctor reviewed",
		slog.String("doctor_id", doctorID),
		slog.String("verification_status", string(status)),
	)
	return profile, nil
}
