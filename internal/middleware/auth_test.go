package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lamemoria/baldosas/internal/auth"
)

const authTestSecret = "mw-test-secret-0123456789abcdef"

func authedChain(t *testing.T, svc *auth.JWTService, inner http.Handler) http.Handler {
	t.Helper()
	return Authenticate(svc)(inner)
}

func okHandler(t *testing.T, wantUserID, wantRole string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetUserID(r.Context()); got != wantUserID {
			t.Errorf("user id = %q, want %q", got, wantUserID)
		}
		if got := GetUserRole(r.Context()); got != wantRole {
			t.Errorf("role = %q, want %q", got, wantRole)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateBearerToken(t *testing.T) {
	svc := auth.NewJWTService(authTestSecret)
	token, err := svc.GenerateAccessToken("u1", auth.RoleUser)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	handler := authedChain(t, svc, okHandler(t, "u1", auth.RoleUser))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthenticateSessionCookie(t *testing.T) {
	svc := auth.NewJWTService(authTestSecret)
	token, err := svc.GenerateAccessToken("u2", auth.RoleModerator)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	handler := authedChain(t, svc, okHandler(t, "u2", auth.RoleModerator))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	svc := auth.NewJWTService(authTestSecret)
	handler := authedChain(t, svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	svc := auth.NewJWTService(authTestSecret)
	refresh, err := svc.GenerateRefreshToken("u1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}

	handler := authedChain(t, svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("refresh token must not authenticate requests")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticatePassesAnonymous(t *testing.T) {
	svc := auth.NewJWTService(authTestSecret)
	handler := authedChain(t, svc, okHandler(t, "", ""))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scans", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	req = req.WithContext(SetUserID(req.Context(), "u1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestRequireModerator(t *testing.T) {
	handler := RequireModerator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/proposals", nil)
	req = req.WithContext(SetUserRole(SetUserID(req.Context(), "u1"), auth.RoleUser))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user role status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/proposals", nil)
	req = req.WithContext(SetUserRole(SetUserID(req.Context(), "u2"), auth.RoleModerator))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderator status = %d, want 200", rec.Code)
	}
}
