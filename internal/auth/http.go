// ABOUTME: HTTP middleware that attaches caller identity to API requests
// ABOUTME: Bearer JWT when a verifier is configured, otherwise the X-User-ID header

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// UserIDHeader names the caller when token auth is disabled.
const UserIDHeader = "X-User-ID"

// maxUserIDLength bounds header-supplied ids.
const maxUserIDLength = 128

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware resolves the caller. With a verifier every request must carry
// a valid bearer token. Without one, X-User-ID is trusted as-is and callers
// without it are anonymous.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
				if len(userID) > maxUserIDLength {
					writeError(w, http.StatusBadRequest, "user id too long")
					return
				}
				if userID != "" {
					r = r.WithContext(WithIdentity(r.Context(), &Identity{UserID: userID}))
				}
				next.ServeHTTP(w, r)
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}
			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected bearer token", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), &Identity{UserID: userID, Verified: true})))
		})
	}
}

// RequireIdentity rejects anonymous callers. Must be used after Middleware.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "caller identity required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
