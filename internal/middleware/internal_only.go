package middleware

import "net/http"

// InternalOnly guards service-to-service endpoints with a shared secret
// header. An empty configured secret leaves the endpoints unguarded, which is
// acceptable only in development.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && r.Header.Get("X-Internal-Secret") != secret {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
