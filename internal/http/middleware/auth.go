package middleware

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/autumn-ma/django-culture/internal/http/response"
	"github.com/autumn-ma/django-culture/internal/security"
)

type contextKey string

const claimsContextKey contextKey = "access_claims"

// RequireAuth rejects requests without a valid access token and stores the
// parsed claims on the request context.
func RequireAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.BearerOrCookieToken(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
		})
	}
}

// OptionalAuth attaches claims when a valid token is present but lets
// anonymous requests through. The evaluation API serves both: anonymous
// callers get the fail-closed anonymous semantics of each strategy.
func OptionalAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.BearerOrCookieToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				// A malformed token is rejected rather than silently
				// downgraded to anonymous.
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
		})
	}
}

// RequireRole gates a route on a role claim; mount after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			if !slices.Contains(claims.Roles, role) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) *security.AccessClaims {
	claims, _ := ctx.Value(claimsContextKey).(*security.AccessClaims)
	return claims
}

// UserIDFromContext returns the authenticated user's id, or false when the
// request is unauthenticated or the subject is not numeric.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
