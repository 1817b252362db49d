package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lamemoria/baldosas/internal/auth"
	"github.com/lamemoria/baldosas/internal/middleware"
)

const apiTestSecret = "api-test-secret-0123456789abcdef"

func newAuthFixture() (*AuthHandlers, *auth.InMemoryUserRepository, *auth.JWTService) {
	users := auth.NewInMemoryUserRepository()
	jwtSvc := auth.NewJWTService(apiTestSecret)
	return NewAuthHandlers(users, jwtSvc, false), users, jwtSvc
}

func doRegister(t *testing.T, handlers *AuthHandlers, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(RegisterRequest{Email: email, Password: password, DisplayName: "Tester"})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handlers.Register(w, req)
	return w
}

func TestRegister_Success(t *testing.T) {
	handlers, users, jwtSvc := newAuthFixture()

	w := doRegister(t, handlers, "Ana@Example.com", "secret123")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected both tokens in the response")
	}
	if resp.User.Email != "ana@example.com" {
		t.Errorf("expected normalized email, got %s", resp.User.Email)
	}
	if resp.User.Role != auth.RoleUser {
		t.Errorf("expected role user, got %s", resp.User.Role)
	}

	// The password hash never leaves the server
	if bytes.Contains(w.Body.Bytes(), []byte("password_hash")) {
		t.Error("response leaked the password hash field")
	}

	// Access token is valid and carries the user id
	claims, err := jwtSvc.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.Subject != resp.User.ID {
		t.Errorf("token subject %s does not match user %s", claims.Subject, resp.User.ID)
	}

	// Session cookie set
	cookies := w.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == middleware.SessionCookieName {
			found = true
			if !c.HttpOnly {
				t.Error("session cookie must be HttpOnly")
			}
			if c.Value != resp.AccessToken {
				t.Error("session cookie should carry the access token")
			}
		}
	}
	if !found {
		t.Error("expected session cookie to be set")
	}

	// User persisted
	if _, err := users.GetByEmail(context.Background(), "ana@example.com"); err != nil {
		t.Errorf("expected user to be stored: %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	handlers, _, _ := newAuthFixture()

	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
		wantHTTP int
	}{
		{"invalid email", "not-an-email", "secret123", ErrCodeValidation, http.StatusBadRequest},
		{"short password", "ana@example.com", "12345", ErrCodeValidation, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRegister(t, handlers, tt.email, tt.password)
			if w.Code != tt.wantHTTP {
				t.Fatalf("expected status %d, got %d: %s", tt.wantHTTP, w.Code, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal error: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("expected error code %s, got %s", tt.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	handlers, _, _ := newAuthFixture()

	if w := doRegister(t, handlers, "ana@example.com", "secret123"); w.Code != http.StatusCreated {
		t.Fatalf("first register failed: %d", w.Code)
	}
	w := doRegister(t, handlers, "ANA@example.com", "otherpass")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error: %v", err)
	}
	if resp.Error.Code != ErrCodeDuplicateEmail {
		t.Errorf("expected error code %s, got %s", ErrCodeDuplicateEmail, resp.Error.Code)
	}
}

func TestLogin(t *testing.T) {
	handlers, _, _ := newAuthFixture()
	doRegister(t, handlers, "ana@example.com", "secret123")

	tests := []struct {
		name     string
		email    string
		password string
		want     int
	}{
		{"correct credentials", "ana@example.com", "secret123", http.StatusOK},
		{"case-insensitive email", "ANA@Example.com", "secret123", http.StatusOK},
		{"wrong password", "ana@example.com", "wrongpass", http.StatusUnauthorized},
		{"unknown email", "nobody@example.com", "secret123", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(LoginRequest{Email: tt.email, Password: tt.password})
			req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
			w := httptest.NewRecorder()
			handlers.Login(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestLogin_FailureIsUniform(t *testing.T) {
	handlers, _, _ := newAuthFixture()
	doRegister(t, handlers, "ana@example.com", "secret123")

	responses := make([]string, 0, 2)
	for _, creds := range []LoginRequest{
		{Email: "ana@example.com", Password: "wrongpass"},
		{Email: "nobody@example.com", Password: "secret123"},
	} {
		body, _ := json.Marshal(creds)
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handlers.Login(w, req)
		responses = append(responses, w.Body.String())
	}
	if responses[0] != responses[1] {
		t.Error("wrong-password and unknown-email responses must be identical")
	}
}

func TestRefresh(t *testing.T) {
	handlers, _, jwtSvc := newAuthFixture()

	w := doRegister(t, handlers, "ana@example.com", "secret123")
	var initial TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &initial); err != nil {
		t.Fatalf("failed to unmarshal register response: %v", err)
	}

	body, _ := json.Marshal(RefreshRequest{RefreshToken: initial.RefreshToken})
	req := httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body))
	w = httptest.NewRecorder()
	handlers.Refresh(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var refreshed TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("failed to unmarshal refresh response: %v", err)
	}
	claims, err := jwtSvc.ValidateToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("refreshed access token invalid: %v", err)
	}
	if claims.Subject != initial.User.ID {
		t.Errorf("refreshed token subject %s, want %s", claims.Subject, initial.User.ID)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	handlers, _, _ := newAuthFixture()

	w := doRegister(t, handlers, "ana@example.com", "secret123")
	var initial TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &initial); err != nil {
		t.Fatalf("failed to unmarshal register response: %v", err)
	}

	// An access token must not pass for a refresh token
	body, _ := json.Marshal(RefreshRequest{RefreshToken: initial.AccessToken})
	req := httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body))
	w = httptest.NewRecorder()
	handlers.Refresh(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestMe(t *testing.T) {
	handlers, users, _ := newAuthFixture()

	u := &auth.User{Email: "ana@example.com", PasswordHash: "x", Role: auth.RoleUser}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req = req.WithContext(middleware.SetUserID(req.Context(), u.ID))
	w := httptest.NewRecorder()
	handlers.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var got auth.User
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal user: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected user %s, got %s", u.ID, got.ID)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	handlers, _, _ := newAuthFixture()

	req := httptest.NewRequest("GET", "/auth/me", nil)
	w := httptest.NewRecorder()
	handlers.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	handlers, _, _ := newAuthFixture()

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	w := httptest.NewRecorder()
	handlers.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != middleware.SessionCookieName {
		t.Fatalf("expected one session cookie, got %v", cookies)
	}
	if cookies[0].MaxAge >= 0 {
		t.Error("expected the cookie to be expired")
	}
}
