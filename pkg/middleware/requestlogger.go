package middleware

import (
	"log/slog"
	"net/http"

	"github.com/medimantra/telehealth/pkg/logger"
)

// RequestLogger stores a logger enriched with the correlation and trace IDs in
// the request context, where handlers pick it up with logger.FromContext.
// Mount it after RequestLogging and Tracing. Auth later adds user_id and role
// to the same logger once the token is resolved.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
