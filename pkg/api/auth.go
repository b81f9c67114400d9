package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken rejects requests that do not carry token as a Bearer
// Authorization or an X-API-Key header. An empty token lets everything
// through.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			got = strings.TrimPrefix(auth, "Bearer ")
		}
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="spp"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}
