package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/greenbook-app/greenbook-backend/internal/auth"
	"github.com/greenbook-app/greenbook-backend/internal/identity"
	"github.com/greenbook-app/greenbook-backend/internal/middleware"
	"github.com/greenbook-app/greenbook-backend/internal/services"
	"github.com/greenbook-app/greenbook-backend/internal/username"
)

const oauthStateCookie = "oauth_state"

// AuthHandler serves signup, sign-in, the username availability check, and
// the Google OAuth flow.
type AuthHandler struct {
	accounts    *services.AccountService
	authSvc     *auth.Service
	google      *auth.GoogleProvider // nil when federation is not configured
	frontendURL string
}

func NewAuthHandler(accounts *services.AccountService, authSvc *auth.Service, google *auth.GoogleProvider, frontendURL string) *AuthHandler {
	return &AuthHandler{
		accounts:    accounts,
		authSvc:     authSvc,
		google:      google,
		frontendURL: frontendURL,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type checkUsernameRequest struct {
	Username string `json:"username"`
}

type completeProfileRequest struct {
	Username string `json:"username"`
}

// Signup registers a new account with the chosen username and signs it in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	principal, token, err := h.accounts.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Account created successfully",
		"token":   token,
		"user": map[string]any{
			"id":    principal.ID,
			"email": principal.Email,
		},
	})
}

// Signin authenticates and returns the profile. A principal whose signup
// never finished gets needs_username=true plus a valid token so the client
// can collect a username and call CompleteProfile.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	principal, profile, token, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrProvisioningIncomplete) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"token":          token,
			"needs_username": true,
			"user": map[string]any{
				"id":    principal.ID,
				"email": principal.Email,
			},
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user":    profile,
	})
}

// CompleteProfile finishes a signup that created the principal but not the
// profile. Requires a session.
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req completeProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	principalID := middleware.PrincipalID(r.Context())
	principal, err := h.authSvc.GetPrincipal(r.Context(), principalID)
	if err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.accounts.CompleteProvisioning(r.Context(), principal.ID, principal.Email, req.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"user":    profile,
	})
}

// Signout invalidates the caller's session.
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.SignOut(r.Context(), middleware.BearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Signed out")
}

// Me returns the caller's profile. Requires a session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.PrincipalID(r.Context())
	profile, err := h.accounts.GetProfile(r.Context(), principalID)
	if errors.Is(err, identity.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"needs_username": true,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    profile,
	})
}

// CheckUsername reports whether a username could be registered right now.
// The answer is advisory; registration rechecks atomically.
func (h *AuthHandler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	var req checkUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if v := username.Validate(req.Username); !v.Valid {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"available": false,
			"username":  req.Username,
			"message":   v.Reason.Message(),
		})
		return
	}

	available, err := h.accounts.CheckAvailability(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"available": available,
		"username":  req.Username,
		"message":   map[bool]string{true: "Username is available", false: "Username is already taken"}[available],
	})
}

// GoogleRedirect starts the OAuth flow: sets the CSRF state cookie and
// sends the browser to Google's consent screen.
func (h *AuthHandler) GoogleRedirect(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeMessage(w, http.StatusNotImplemented, "Google sign-in is not configured")
		return
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		writeError(w, err)
		return
	}
	state := base64.URLEncoding.EncodeToString(raw)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback finishes the OAuth flow: verifies state, exchanges the
// code, signs the principal in (auto-provisioning a profile on first
// login), and bounces back to the frontend with the session token.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeMessage(w, http.StatusNotImplemented, "Google sign-in is not configured")
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeMessage(w, http.StatusBadRequest, "OAuth state mismatch")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeMessage(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	fp, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	_, _, token, err := h.accounts.FederatedSignIn(r.Context(), fp)
	if err != nil {
		writeError(w, err)
		return
	}

	redirect := h.frontendURL + "/auth/callback?token=" + url.QueryEscape(token)
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}
