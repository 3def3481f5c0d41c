package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths are served without a token so probes and scrapers keep working.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware validates Bearer token authentication. It is a no-op when
// no AuthToken is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}

	tokenBytes := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), tokenBytes) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
