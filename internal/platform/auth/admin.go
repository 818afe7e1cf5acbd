package auth

import (
	"net/http"
	"strings"

	"github.com/example/event-engagement/internal/platform/api"
	"github.com/example/event-engagement/internal/platform/httpserver"
)

// RoleAdmin is the role claim granting administrative endpoints.
const RoleAdmin = "admin"

// RequireRole admits the request only when RequireUser injected the given role.
func RequireRole(role string) func(next http.Handler) http.Handler {
	want := strings.ToLower(strings.TrimSpace(role))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := RoleFromContext(r.Context())
			if strings.ToLower(strings.TrimSpace(got)) != want {
				api.Forbidden(w, "FORBIDDEN", want+" role required", httpserver.RequestIDFromContext(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireRole(RoleAdmin).
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}
