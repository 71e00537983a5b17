package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/brightdent/clinicauth"
)

type authResultContextKey struct{}

// AuthResultFromContext extracts the validated auth result injected by
// [Guard].
func AuthResultFromContext(ctx context.Context) (*clinicauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*clinicauth.AuthResult)
	return res, ok
}

// Guard returns middleware that authenticates the request's bearer token
// and, when roles are given, requires the account's role to be one of
// them. The validated result is injected into the request context for
// downstream handlers.
func Guard(engine *clinicauth.Engine, roles ...clinicauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := clinicauth.WithClientIP(r.Context(), clientIP(r))
			ctx = clinicauth.WithUserAgent(ctx, r.UserAgent())

			res, err := engine.Authenticate(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !clinicauth.IsAuthorized(res.Account.Role, roles...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff admits staff, dentist, and admin accounts.
func RequireStaff(engine *clinicauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, clinicauth.RoleStaff, clinicauth.RoleDentist, clinicauth.RoleAdmin)
}

// RequireAdmin admits admin accounts only.
func RequireAdmin(engine *clinicauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, clinicauth.RoleAdmin)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
