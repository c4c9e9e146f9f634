package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/greenbook-app/greenbook-backend/internal/identity"
	"github.com/greenbook-app/greenbook-backend/internal/middleware"
	"github.com/greenbook-app/greenbook-backend/internal/services"
)

// ProfileHandler serves public profile lookup, profile updates (including
// username renames), search, and account deletion.
type ProfileHandler struct {
	accounts *services.AccountService
}

func NewProfileHandler(accounts *services.AccountService) *ProfileHandler {
	return &ProfileHandler{accounts: accounts}
}

// updateProfileRequest is a partial update: absent fields are untouched,
// present fields are set, and names listed in clear are removed. A non-empty
// username triggers a rename.
type updateProfileRequest struct {
	Username       string   `json:"username,omitempty"`
	DisplayName    *string  `json:"display_name,omitempty"`
	FirstName      *string  `json:"first_name,omitempty"`
	LastName       *string  `json:"last_name,omitempty"`
	Bio            *string  `json:"bio,omitempty"`
	HomeCourseID   *string  `json:"home_course_id,omitempty"`
	HomeCourseName *string  `json:"home_course_name,omitempty"`
	AvatarURL      *string  `json:"avatar_url,omitempty"`
	Clear          []string `json:"clear,omitempty"`
}

// GetByUsername returns the public profile for /api/users/{username}.
func (h *ProfileHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	profile, err := h.accounts.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}

	// Public view: email stays private.
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": map[string]any{
			"username":         profile.Username,
			"display_username": profile.DisplayUsername,
			"display_name":     profile.DisplayName,
			"bio":              profile.Bio,
			"home_course_id":   profile.HomeCourseID,
			"home_course_name": profile.HomeCourseName,
			"avatar_url":       profile.AvatarURL,
			"created_at":       profile.CreatedAt,
		},
	})
}

// Search returns profiles whose username starts with the prefix query.
func (h *ProfileHandler) Search(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeMessage(w, http.StatusBadRequest, "prefix is required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	profiles, err := h.accounts.Search(r.Context(), prefix, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]map[string]any, 0, len(profiles))
	for _, p := range profiles {
		results = append(results, map[string]any{
			"username":         p.Username,
			"display_username": p.DisplayUsername,
			"display_name":     p.DisplayName,
			"avatar_url":       p.AvatarURL,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   results,
	})
}

// Update applies a partial profile update for the caller. Requires a
// session. The rename (when username is present) commits before the field
// patch; a taken username fails the whole request with 409.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := identity.ProfilePatch{
		DisplayName:    req.DisplayName,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Bio:            req.Bio,
		HomeCourseID:   req.HomeCourseID,
		HomeCourseName: req.HomeCourseName,
		AvatarURL:      req.AvatarURL,
	}
	for _, name := range req.Clear {
		switch identity.Field(name) {
		case identity.FieldBio, identity.FieldHomeCourse, identity.FieldAvatarURL:
			patch.Clear = append(patch.Clear, identity.Field(name))
		default:
			writeMessage(w, http.StatusBadRequest, "Unknown clearable field: "+name)
			return
		}
	}

	principalID := middleware.PrincipalID(r.Context())
	if err := h.accounts.UpdateProfile(r.Context(), principalID, req.Username, patch); err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.accounts.GetProfile(r.Context(), principalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    profile,
	})
}

// Delete removes the caller's account: profile, username reservation, and
// principal. Requires a session.
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.PrincipalID(r.Context())
	if err := h.accounts.DeleteAccount(r.Context(), principalID); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Account deleted")
}
