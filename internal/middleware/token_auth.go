package middleware

import (
	"net/http"
	"strings"

	"github.com/projecthub/internal/auth"
)

// TokenAuth validates the Bearer token on HTTP requests and puts the
// verified user id on the context. Requests without a verifiable identity
// get a JSON 401.
func TokenAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			identity, err := verifier.Verify(token)
			if err != nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), identity.UserID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// WebSocket handshakes from browsers cannot set headers; allow query.
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}
