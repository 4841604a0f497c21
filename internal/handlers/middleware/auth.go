package middleware

import (
	"net/http"
	"strings"

	"github.com/arraniry/storepay/internal/handlers/render"
)

type tokenVerifier interface {
	VerifyToken(tokenString string) error
}

// AuthMiddleware rejects requests without a valid bearer token
func AuthMiddleware(v tokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || v.VerifyToken(token) != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
