package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type Keys struct {
	Public []string
	Admin  []string
}

// Role is the access level a request authenticated with.
type Role string

const (
	RoleNone   Role = ""
	RolePublic Role = "public"
	RoleAdmin  Role = "admin"
)

type roleKey struct{}

// RoleFrom returns the role stored by RequireAny or RequireAdmin.
func RoleFrom(ctx context.Context) Role {
	r, _ := ctx.Value(roleKey{}).(Role)
	return r
}

func readAuth(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func hasKey(given string, set []string) bool {
	if given == "" {
		return false
	}
	found := 0
	for _, k := range set {
		found |= subtle.ConstantTimeCompare([]byte(k), []byte(given))
	}
	return found == 1
}

func (k Keys) role(given string) Role {
	switch {
	case hasKey(given, k.Admin):
		return RoleAdmin
	case hasKey(given, k.Public):
		return RolePublic
	}
	return RoleNone
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireAny allows requests that present either a public or admin key.
// If no keys are configured, it allows all requests as admin (handy for local dev).
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	enabled := len(keys.Public) > 0 || len(keys.Admin) > 0
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleAdmin
			if enabled {
				if role = keys.role(readAuth(r)); role == RoleNone {
					deny(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
		})
	}
}

// RequireAdmin only permits requests that present an admin key.
// If no admin keys are configured, it allows all requests (dev).
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	enabled := len(keys.Admin) > 0
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled {
				switch keys.role(readAuth(r)) {
				case RoleAdmin:
				case RoleNone:
					deny(w, http.StatusUnauthorized, "unauthorized")
					return
				default:
					deny(w, http.StatusForbidden, "forbidden")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, RoleAdmin)))
		})
	}
}
