package mw

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/peer"
)

// ValidToken compares a presented token with the shared secret.
func ValidToken(secret, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1
}

// Token rejects requests whose Token header does not carry the shared
// secret.
func Token(secret string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ValidToken(secret, r.Header.Get(peer.TokenHeader)) {
				log.Debugf("Token: rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
				deny(w, http.StatusForbidden, "Not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// deny writes the error envelope every control plane route answers with.
func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"result":  "error",
		"message": message,
	})
}
