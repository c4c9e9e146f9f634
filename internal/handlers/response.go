package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/greenbook-app/greenbook-backend/internal/auth"
	"github.com/greenbook-app/greenbook-backend/internal/identity"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": status < 400,
		"message": message,
	})
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and hidden behind a generic 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var invalidErr *identity.InvalidUsernameError
	switch {
	case errors.As(err, &invalidErr):
		writeMessage(w, http.StatusBadRequest, invalidErr.Reason.Message())
	case errors.Is(err, identity.ErrUsernameTaken):
		writeMessage(w, http.StatusConflict, "Username is already taken")
	case errors.Is(err, identity.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrEmailTaken):
		writeMessage(w, http.StatusConflict, "An account with this email already exists")
	default:
		log.Printf("ERROR: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
	}
}
