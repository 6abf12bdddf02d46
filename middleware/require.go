package middleware

import (
	"net/http"
)

// RequirePermission passes only requests whose access token grants every
// listed permission. It must run after Guard.
func RequirePermission(perms ...string) func(http.Handler) http.Handler {
	return require(func(res accessChecker) bool {
		for _, p := range perms {
			if !res.HasPermission(p) {
				return false
			}
		}
		return true
	})
}

// RequireRole passes requests whose access token carries at least one of
// the listed roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return require(func(res accessChecker) bool {
		for _, role := range roles {
			if res.HasRole(role) {
				return true
			}
		}
		return false
	})
}

type accessChecker interface {
	HasPermission(string) bool
	HasRole(string) bool
}

func require(allowed func(accessChecker) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AccessFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed(res) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
