package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// Browser-facing surface of the auth API.
const (
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE"
	corsAllowHeaders  = "Accept, Authorization, Content-Type, X-Correlation-ID"
	corsExposeHeaders = "X-Correlation-ID, Retry-After, Traceparent"
)

// CORSConfig selects the web client origins allowed to call the API.
type CORSConfig struct {
	// AllowedOrigins are exact origins such as "https://app.medimantra.example".
	// "*" admits any origin, but only in development.
	AllowedOrigins []string

	// AllowCredentials lets the browser send cookies. A wildcard origin is
	// then echoed back, since browsers refuse "*" with credentials.
	AllowCredentials bool

	// MaxAge is how long a preflight answer may be cached. Zero means an hour.
	MaxAge time.Duration

	Development bool
}

// DefaultCORSConfig admits any origin, for a web client served from its own
// dev server.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		MaxAge:         time.Hour,
		Development:    true,
	}
}

// CORS answers preflight requests and marks responses to allowed origins.
// Requests from other origins pass through without CORS headers, so the
// browser withholds the response; their preflights get 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	anyOrigin := false
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			anyOrigin = cfg.Development
			continue
		}
		origins[o] = struct{}{}
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	maxAge := strconv.Itoa(int(cfg.MaxAge / time.Second))

	allowed := func(origin string) bool {
		if anyOrigin {
			return true
		}
		_, ok := origins[origin]
		return ok
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !allowed(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if anyOrigin && !cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if preflight {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}
