package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lorekeep/lorekeep/internal/observability"
)

// Middleware enforces JWT/API key auth on HTTP handlers.
//
// Credentials are taken from the Authorization header ("Bearer <jwt>") or
// from the X-API-Key header. When the service has no credentials configured
// the middleware passes requests through unchanged.
func Middleware(service *Service, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if token := extractBearer(r); token != "" {
				user, err := service.ValidateJWT(token)
				if err != nil {
					if logger != nil {
						logger.Warn(r.Context(), "jwt validation failed", "error", err)
					}
					unauthorized(w, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			if apiKey := extractAPIKey(r); apiKey != "" {
				user, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					if logger != nil {
						logger.Warn(r.Context(), "api key validation failed", "error", err)
					}
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			unauthorized(w, "missing credentials")
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	for _, key := range []string{"X-API-Key", "Api-Key"} {
		if value := strings.TrimSpace(r.Header.Get(key)); value != "" {
			return value
		}
	}
	return ""
}
