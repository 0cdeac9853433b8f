package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// APIKeyAuth validates API key authentication on the public surface.
//
// When CUBICLER_API_KEYS is set (comma-separated list), requests must carry
// a valid key via:
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//
// /health and /version stay public. When no keys are configured the
// middleware passes everything through.
type APIKeyAuth struct {
	keys    []string
	enabled bool
}

// NewAPIKeyAuth creates the API key middleware from CUBICLER_API_KEYS.
func NewAPIKeyAuth() *APIKeyAuth {
	auth := &APIKeyAuth{}
	for _, key := range strings.Split(os.Getenv("CUBICLER_API_KEYS"), ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			auth.keys = append(auth.keys, key)
			auth.enabled = true
		}
	}
	return auth
}

// Enabled reports whether API key auth is active.
func (a *APIKeyAuth) Enabled() bool { return a.enabled }

// Middleware enforces API key auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}
		if !a.validateKey(apiKey) {
			respondUnauthorized(w, "Invalid API key.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) validateKey(candidate string) bool {
	for _, key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="cubicler"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
