package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/service"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
	"github.com/medimantra/telehealth/pkg/httputil"
)

// ProfileHandler serves the role-gated profile and doctor review routes.
type ProfileHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewProfileHandler creates a new profile HTTP handler.
func NewProfileHandler(svc *service.AuthService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: svc, logger: logger}
}

// PatientProfile handles GET /api/patients/profile
func (h *ProfileHandler) PatientProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	identity, err := h.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, identity)
}

// DoctorProfile handles GET /api/doctors/profile
func (h *ProfileHandler) DoctorProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetDoctorProfile(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, profile)
}

// VerifyDoctor handles PUT /api/doctors/{id}/verify
func (h *ProfileHandler) VerifyDoctor(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.service.VerifyDoctor)
}

// RejectDoctor handles PUT /api/doctors/{id}/reject
func (h *ProfileHandler) RejectDoctor(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.service.RejectDoctor)
}

type reviewFunc func(ctx context.Context, doctorID string) (*domain.DoctorProfile, error)

func (h *ProfileHandler) review(w http.ResponseWriter, r *http.Request, review reviewFunc) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("doctor id is required"), h.logger)
		return
	}

	profile, err := review(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, profile)
}
