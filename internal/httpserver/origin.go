package httpserver

import (
	"net/http"
	"strings"

	"github.com/vireochat/signal-relay/internal/origin"
)

// WithOriginPolicy wraps a handler with the relay's browser origin policy.
//
// Requests without an Origin header (non-browser clients, same-origin fetches
// in some browsers) pass through untouched.
func (s *Server) WithOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalizedOrigin, originHost, ok := origin.NormalizeHeader(originHeader)
		if !ok || !origin.IsAllowed(normalizedOrigin, originHost, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Add("Vary", "Origin")

		next(w, r)
	}
}
