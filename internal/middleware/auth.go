package middleware

import (
	"net/http"
	"strings"

	"github.com/lamemoria/baldosas/internal/auth"
)

// SessionCookieName is the cookie carrying the access token for browser
// clients. API clients may send an Authorization bearer header instead.
const SessionCookieName = "baldosas_session"

// bearerToken extracts the access token from the Authorization header or,
// failing that, from the session cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate validates the request's access token when present and stores
// the user id and role in the context. Requests without a token pass through
// unauthenticated; handlers that need identity use RequireAuth.
func Authenticate(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil || claims.Type != auth.TokenTypeAccess {
				// An invalid token is worse than no token.
				writeAuthError(w, r, "invalid or expired token")
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			ctx = SetUserRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that did not authenticate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			writeAuthError(w, r, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireModerator rejects requests whose user is not a moderator.
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			writeAuthError(w, r, "authentication required")
			return
		}
		if GetUserRole(r.Context()) != auth.RoleModerator {
			ctx := SetErrorCode(r.Context(), "forbidden")
			UpdateResponseContext(w, ctx)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"moderator role required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	ctx := SetErrorCode(r.Context(), "auth_failed")
	UpdateResponseContext(w, ctx)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"auth_failed","message":"` + message + `"}}`))
}
