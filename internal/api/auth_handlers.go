package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lamemoria/baldosas/internal/auth"
	"github.com/lamemoria/baldosas/internal/middleware"
)

// sessionCookieMaxAge matches the access token lifetime.
const sessionCookieMaxAge = auth.AccessTokenExpiry

// RegisterRequest represents the request body for POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginRequest represents the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents the request body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by register, login, and refresh.
type TokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         *auth.User `json:"user"`
}

// AuthHandlers holds dependencies for authentication HTTP handlers.
type AuthHandlers struct {
	users         auth.UserRepository
	jwt           *auth.JWTService
	secureCookies bool
}

// NewAuthHandlers creates a new AuthHandlers instance. secureCookies should
// be true in production so the session cookie is HTTPS-only.
func NewAuthHandlers(users auth.UserRepository, jwt *auth.JWTService, secureCookies bool) *AuthHandlers {
	return &AuthHandlers{users: users, jwt: jwt, secureCookies: secureCookies}
}

// Register handles POST /auth/register - creates a user account and signs
// the caller in.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "A valid email address is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "password must be at least 6 characters")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create account")
		return
	}

	u := &auth.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Role:         auth.RoleUser,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeDuplicateEmail)
			WriteError(w, ctx, http.StatusConflict, ErrCodeDuplicateEmail, "Email is already registered")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create account")
		return
	}

	h.issueTokens(w, r, u, http.StatusCreated)
}

// Login handles POST /auth/login - password sign-in.
// Unknown emails and wrong passwords are indistinguishable in the response.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		h.writeInvalidCredentials(w, r)
		return
	}

	u, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			h.writeInvalidCredentials(w, r)
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to sign in")
		return
	}

	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		h.writeInvalidCredentials(w, r)
		return
	}

	h.issueTokens(w, r, u, http.StatusOK)
}

// Refresh handles POST /auth/refresh - exchanges a refresh token for a new
// token pair.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	claims, err := h.jwt.ValidateToken(req.RefreshToken)
	if err != nil || claims.Type != auth.TokenTypeRefresh {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired refresh token")
		return
	}

	u, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Account no longer exists")
		return
	}

	h.issueTokens(w, r, u, http.StatusOK)
}

// Me handles GET /auth/me - returns the authenticated user.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "User not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve user")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, u)
}

// Logout handles POST /auth/logout - clears the session cookie.
// Issued tokens stay valid until expiry; the server keeps no session state.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// issueTokens generates a token pair, sets the session cookie, and writes
// the token response.
func (h *AuthHandlers) issueTokens(w http.ResponseWriter, r *http.Request, u *auth.User, status int) {
	access, err := h.jwt.GenerateAccessToken(u.ID, u.Role)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue tokens")
		return
	}
	refresh, err := h.jwt.GenerateRefreshToken(u.ID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue tokens")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    access,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, r.Context(), status, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         u,
	})
}

// writeInvalidCredentials writes the shared login failure response.
func (h *AuthHandlers) writeInvalidCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
	WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid email or password")
}
