package domain

import (
	"errors"
	"strings"
	"time"
)

// Identity is a registered principal. PasswordHash never leaves the server.
type Identity struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	PasswordHash  string         `json:"-"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Phone         string         `json:"phone,omitempty"`
	Role          Role           `json:"role"`
	IsActive      bool           `json:"isActive"`
	EmailVerified bool           `json:"emailVerified"`
	PhoneVerified bool           `json:"phoneVerified"`
	DoctorProfile *DoctorProfile `json:"doctorProfile,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// IsDoctor reports whether the identity has the doctor role.
func (i *Identity) IsDoctor() bool {
	return i != nil && i.Role == RoleDoctor
}

// FullName joins the first and last name.
func (i *Identity) FullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// NormalizeEmail lower-cases and trims an address. Emails are stored and
// compared in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// VerificationStatus tracks the admin review of a doctor profile.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// ErrStatusUnchanged is returned when a review would not change the status.
var ErrStatusUnchanged = errors.New("verification status unchanged")

// AvailabilitySlot is a weekly consultation window, times as "HH:MM".
type AvailabilitySlot struct {
	Day       string `json:"day" validate:"required,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime string `json:"startTime" validate:"required,len=5"`
	EndTime   string `json:"endTime" validate:"required,len=5"`
}

// DoctorProfile is the role-specific payload of a doctor identity.
// VerificationDocuments hold references only; the files live elsewhere.
type DoctorProfile struct {
	IdentityID            string             `json:"identityId"`
	Specialties           []string           `json:"specialties"`
	LicenseNumber         string             `json:"licenseNumber"`
	ExperienceYears       int                `json:"experienceYears"`
	ConsultationFee       int64              `json:"consultationFee"`
	Bio                   string             `json:"bio,omitempty"`
	VerificationStatus    VerificationStatus `json:"verificationStatus"`
	VerificationDocuments []string           `json:"verificationDocuments"`
	Availability          []AvailabilitySlot `json:"availability"`
	IsAvailable           bool               `json:"isAvailable"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// Review moves the profile to status. Reviewing to the current status is
// rejected so that repeated admin actions surface as conflicts.
func (p *DoctorProfile) Review(status VerificationStatus, at time.Time) error {
	if p.VerificationStatus == status {
		return ErrStatusUnchanged
	}
	p.VerificationStatus = status
	p.IsAvailable = status == VerificationVerified
	p.UpdatedAt = at
	return nil
}
