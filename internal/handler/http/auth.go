package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/service"
	"github.com/medimantra/telehealth/pkg/httputil"
)

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for patient registration.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"required,min=1,max=100"`
	LastName  string `json:"lastName" validate:"required,min=1,max=100"`
	Phone     string `json:"phone" validate:"omitempty,e164"`
}

// RegisterDoctorRequest is the JSON request body for doctor registration.
type RegisterDoctorRequest struct {
	RegisterRequest
	Specialties     []string                  `json:"specialties" validate:"required,min=1,dive,required"`
	LicenseNumber   string                    `json:"licenseNumber" validate:"required,max=64"`
	ExperienceYears int                       `json:"experienceYears" validate:"gte=0,lte=80"`
	ConsultationFee int64                     `json:"consultationFee" validate:"gte=0"`
	Bio             string                    `json:"bio" validate:"max=2000"`
	Availability    []domain.AvailabilitySlot `json:"availability" validate:"dive"`
}

// LoginRequest is the JSON request body for login at either portal.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest is the JSON request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutRequest is the optional JSON body of a logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// EmailRequest carries a bare email address.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ChangePasswordRequest is the JSON request body for changing a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// VerifyEmailRequest is the JSON request body for email verification.
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyPhoneRequest is the JSON request body for phone verification.
type VerifyPhoneRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// CompleteProfileRequest is the JSON request body for completing a doctor profile.
type CompleteProfileRequest struct {
	Specialties           []string                  `json:"specialties" validate:"required,min=1,dive,required"`
	LicenseNumber         string                    `json:"licenseNumber" validate:"required,max=64"`
	ExperienceYears       int                       `json:"experienceYears" validate:"gte=0,lte=80"`
	ConsultationFee       int64                     `json:"consultationFee" validate:"gte=0"`
	Bio                   string                    `json:"bio" validate:"max=2000"`
	Availability          []domain.AvailabilitySlot `json:"availability" validate:"dive"`
	VerificationDocuments []string                  `json:"verificationDocuments" validate:"omitempty,dive,required"`
}

// --- Response types ---

// AuthResponse is the flat body of register, login and refresh. Token and
// AccessToken carry the same value; older web clients read either.
type AuthResponse struct {
	Success          bool                  `json:"success"`
	Message          string                `json:"message,omitempty"`
	Token            string                `json:"token"`
	AccessToken      string                `json:"accessToken"`
	RefreshToken     string                `json:"refreshToken"`
	AccessExpiresAt  time.Time             `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time             `json:"refreshExpiresAt"`
	User             *domain.Identity      `json:"user"`
	Patient          *domain.Identity      `json:"patient,omitempty"`
	DoctorProfile    *domain.DoctorProfile `json:"doctorProfile,omitempty"`
	UserID           string                `json:"userId,omitempty"`
}

// CurrentUserResponse is the body of GET /auth/current-user.
type CurrentUserResponse struct {
	Success bool             `json:"success"`
	User    *domain.Identity `json:"user"`
	Data    *domain.Identity `json:"data"`
}

// newAuthResponse shapes the body by role: patients are echoed under
// "patient", doctors get their profile alongside.
func newAuthResponse(res *service.AuthResult, message string) (AuthResponse, error) {
	body := AuthResponse{
		Success:          true,
		Message:          message,
		Token:            res.Tokens.AccessToken,
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
		User:             res.Identity,
		UserID:           res.Identity.ID,
	}
	shape, err := domain.MatchRole(res.Identity.Role,
		func() func(*AuthResponse) {
			return func(b *AuthResponse) { b.Patient = res.Identity }
		},
		func() func(*AuthResponse) {
			return func(b *AuthResponse) { b.DoctorProfile = res.Identity.DoctorProfile }
		},
		func() func(*AuthResponse) {
			return func(*AuthResponse) {}
		},
	)
	if err != nil {
		return AuthResponse{}, err
	}
	shape(&body)
	return body, nil
}

func (h *AuthHandler) writeAuth(w http.ResponseWriter, r *http.Request, status int, res *service.AuthResult, message string) {
	body, err := newAuthResponse(res, message)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, status, body)
}

// --- Handlers ---

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.Register(r.Context(), req.input())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeAuth(w, r, http.StatusCreated, res, "registration successful")
}

// RegisterDoctor handles POST /api/auth/doctor/register
func (h *AuthHandler) RegisterDoctor(w http.ResponseWriter, r *http.Request) {
	var req RegisterDoctorRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.RegisterDoctor(r.Context(), service.RegisterDoctorInput{
		RegisterInput:   req.input(),
		Specialties:     req.Specialties,
		LicenseNumber:   req.LicenseNumber,
		ExperienceYears: req.ExperienceYears,
		ConsultationFee: req.ConsultationFee,
		Bio:             req.Bio,
		Availability:    req.Availability,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeAuth(w, r, http.StatusCreated, res, "registration successful, profile pending verification")
}

func (req RegisterRequest) input() service.RegisterInput {
	return service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.service.Login)
}

// LoginDoctor handles POST /api/auth/doctor/login
func (h *AuthHandler) LoginDoctor(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.service.LoginDoctor)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, login func(ctx context.Context, input service.LoginInput) (*service.AuthResult, error)) {
	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := login(r.Context(), service.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeAuth(w, r, http.StatusOK, res, "login successful")
}

// RefreshToken handles POST /api/auth/refresh-token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeAuth(w, r, http.StatusOK, res, "")
}

// CurrentUser handles GET /api/auth/current-user
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	identity, err := h.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CurrentUserResponse{Success: true, User: identity, Data: identity})
}

// Logout handles POST /api/auth/logout. The body is optional.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	err := h.service.Logout(r.Context(), service.LogoutInput{
		UserID:          claims.UserID,
		TokenID:         claims.TokenID,
		AccessExpiresAt: claims.ExpiresAt,
		RefreshToken:    req.RefreshToken,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "logged out successfully")
}

// ForgotPassword handles POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "if the email exists, a password reset link has been sent")
}

// ResetPassword handles POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "password has been reset successfully")
}

// ChangePassword handles PUT /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "password changed successfully")
}

// VerifyEmail handles POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "email verified successfully")
}

// ResendVerificationEmail handles POST /api/auth/resend-verification-email
func (h *AuthHandler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.ResendVerificationEmail(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "if the email needs verification, a new link has been sent")
}

// VerifyPhone handles POST /api/auth/verify-phone
func (h *AuthHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req VerifyPhoneRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.VerifyPhone(r.Context(), req.Phone, req.OTP); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "phone verified successfully")
}

// ResendPhoneOTP handles POST /api/auth/resend-phone-otp
func (h *AuthHandler) ResendPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.ResendPhoneOTP(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteAck(w, http.StatusOK, "a new code has been sent")
}

// CompleteDoctorProfile handles PUT /api/auth/doctor/complete-profile
func (h *AuthHandler) CompleteDoctorProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req CompleteProfileRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	profile, err := h.service.CompleteDoctorProfile(r.Context(), claims.UserID, service.CompleteProfileInput{
		Specialties:           req.Specialties,
		LicenseNumber:         req.LicenseNumber,
		ExperienceYears:       req.ExperienceYears,
		ConsultationFee:       req.ConsultationFee,
		Bio:                   req.Bio,
		Availability:          req.Availability,
		VerificationDocuments: req.VerificationDocuments,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, profile)
}
