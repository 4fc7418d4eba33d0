package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/medimantra/telehealth/internal/service"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
	"github.com/medimantra/telehealth/pkg/httputil"
	"github.com/medimantra/telehealth/pkg/logger"
	"github.com/medimantra/telehealth/pkg/middleware"
)

// ContentTypeJSON enforces that requests with a body have Content-Type:
// application/json. Bodiless POSTs such as logout pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0 && r.Method != http.MethodGet && r.Method != http.MethodDelete
		if hasBody && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
				Message:   "Content-Type must be application/json",
				Code:      "UNSUPPORTED_MEDIA_TYPE",
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenValidator bridges the auth gateway to the issuer and the denylist.
func TokenValidator(svc *service.AuthService) middleware.TokenValidator {
	return func(ctx context.Context, token string) (*middleware.Claims, error) {
		principal, err := svc.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:    principal.UserID,
			Email:     principal.Email,
			Role:      principal.Role.String(),
			TokenID:   principal.TokenID,
			ExpiresAt: principal.ExpiresAt,
		}, nil
	}
}

// requireClaims returns the gateway claims or writes a 401.
func requireClaims(w http.ResponseWriter, r *http.Request) (*middleware.Claims, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.UserID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), nil)
		return nil, false
	}
	return claims, true
}
