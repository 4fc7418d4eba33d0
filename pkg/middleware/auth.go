package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/medimantra/telehealth/pkg/errors"
	"github.com/medimantra/telehealth/pkg/httputil"
	"github.com/medimantra/telehealth/pkg/logger"
)

type contextKeyType string

const (
	claimsKey contextKeyType = "claims"
)

// Claims is the identity resolved from a bearer token.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// TokenValidator validates a bearer token and returns the resolved claims.
// Returning an *apperrors.AppError with a 401 status lets the validator choose
// the rejection code (TOKEN_EXPIRED, TOKEN_MALFORMED, ...); any other error is
// reported as TOKEN_INVALID.
type TokenValidator func(ctx context.Context, token string) (*Claims, error)

// Auth validates the bearer token of every request and stores the resolved
// claims in the request context. It never touches storage itself.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				reject(w, r, apperrors.Unauthorized("missing or invalid authorization header"))
				return
			}

			claims, err := validate(r.Context(), token)
			if err != nil {
				var appErr *apperrors.AppError
				if !errors.As(err, &appErr) || appErr.Status != http.StatusUnauthorized {
					appErr = apperrors.TokenRejected(apperrors.CodeTokenInvalid, "invalid token")
				}
				reject(w, r, appErr)
				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("enduser.id", claims.UserID),
				attribute.String("enduser.role", claims.Role),
			)
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithUserID(ctx, claims.UserID)
			ctx = logger.WithRole(ctx, claims.Role)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(
				slog.String("user_id", claims.UserID),
				slog.String("role", claims.Role),
			))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose role is not in roles with
// 403, which is kept distinct from the 401 produced by Auth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				reject(w, r, apperrors.Unauthorized("authentication required"))
				return
			}
			if _, ok := roleSet[claims.Role]; !ok {
				reject(w, r, apperrors.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// ClaimsFromContext returns the claims stored by Auth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// ContextWithClaims stores claims the way Auth does. Handlers under test use it
// to skip token validation.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// RoleFromContext extracts the user role from the request context.
func RoleFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Role
	}
	return ""
}

func reject(w http.ResponseWriter, r *http.Request, err *apperrors.AppError) {
	authRejectionsTotal.WithLabelValues(err.Code).Inc()
	trace.SpanFromContext(r.Context()).AddEvent("auth.rejected",
		trace.WithAttributes(attribute.String("auth.code", err.Code)))
	httputil.WriteJSON(w, err.Status, httputil.Response{
		Message:   err.Message,
		Code:      err.Code,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	})
}
