package server

import (
	"net/http"
	"strings"
)

// NewOriginChecker builds the websocket upgrade origin policy. With no
// configured origins every request passes, which keeps local
// development friction-free. Otherwise the Origin header must match one
// of the allowed entries (scheme + host, case-insensitive). Requests
// without an Origin header come from non-browser clients and pass.
func NewOriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[normalizeOrigin(origin)] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}

		_, ok := allowed[normalizeOrigin(origin)]
		return ok
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(origin, "/"))
}
