package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/internal/service"
	"github.com/medimantra/telehealth/pkg/health"
	"github.com/medimantra/telehealth/pkg/httputil"
	"github.com/medimantra/telehealth/pkg/middleware"
)

const serviceName = "auth"

// RouterConfig holds the optional pieces of the router.
type RouterConfig struct {
	CORS middleware.CORSConfig
	// RateLimiter guards the credential endpoints. Nil disables limiting.
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(cfg.CORS))

	r.NotFound(httputil.NotFound)
	r.MethodNotAllowed(httputil.MethodNotAllowed)

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(authService, logger)
	profileHandler := NewProfileHandler(authService, logger)
	requireAuth := middleware.Auth(TokenValidator(authService))
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware
	}

	roles := func(allowed ...domain.Role) func(http.Handler) http.Handler {
		names := make([]string, len(allowed))
		for i, role := range allowed {
			names[i] = role.String()
		}
		return middleware.RequireRole(names...)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/auth", func(r chi.Router) {
			// Credential endpoints (public, rate limited)
			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Post("/register", authHandler.Register)
				r.Post("/doctor/register", authHandler.RegisterDoctor)
				r.Post("/login", authHandler.Login)
				r.Post("/doctor/login", authHandler.LoginDoctor)
			})

			// Public account flows
			r.Post("/refresh-token", authHandler.RefreshToken)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/resend-verification-email", authHandler.ResendVerificationEmail)
			r.Post("/verify-phone", authHandler.VerifyPhone)
			r.Post("/resend-phone-otp", authHandler.ResendPhoneOTP)

			// Authenticated
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/current-user", authHandler.CurrentUser)
				r.Post("/logout", authHandler.Logout)
				r.Put("/change-password", authHandler.ChangePassword)
				r.With(roles(domain.RoleDoctor)).Put("/doctor/complete-profile", authHandler.CompleteDoctorProfile)
			})
		})

		r.Route("/patients", func(r chi.Router) {
			r.Use(requireAuth)
			r.With(roles(domain.RolePatient)).Get("/profile", profileHandler.PatientProfile)
		})

		r.Route("/doctors", func(r chi.Router) {
			r.Use(requireAuth)
			r.With(roles(domain.RoleDoctor)).Get("/profile", profileHandler.DoctorProfile)
			r.With(roles(domain.RoleAdmin)).Put("/{id}/verify", profileHandler.VerifyDoctor)
			r.With(roles(domain.RoleAdmin)).Put("/{id}/reject", profileHandler.RejectDoctor)
		})
	})

	return r
}
