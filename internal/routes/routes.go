package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/greenbook-app/greenbook-backend/internal/handlers"
	"github.com/greenbook-app/greenbook-backend/internal/middleware"
)

// Handlers collects everything SetupRoutes mounts.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Profile  *handlers.ProfileHandler
	Session  *handlers.SessionHandler
	Sessions middleware.SessionValidator
	Limiter  *middleware.RateLimiter

	AllowedOrigins []string
}

func SetupRoutes(r *chi.Mux, h Handlers) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.SecurityHeaders)
	r.Use(h.Limiter.Middleware)
	r.Use(middleware.LoginRateLimit)

	requireSession := middleware.RequireSession(h.Sessions)

	// Health check. Mounted here because chi forbids Use after the first
	// route registration; everything, health included, goes on after the
	// middleware chain.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Auth routes
	r.Post("/api/auth/signup", h.Auth.Signup)
	r.Post("/api/auth/signin", h.Auth.Signin)
	r.Post("/api/auth/signout", h.Auth.Signout)
	r.Post("/api/auth/check-username", h.Auth.CheckUsername)
	r.With(requireSession).Get("/api/auth/me", h.Auth.Me)
	r.With(requireSession).Post("/api/auth/complete-profile", h.Auth.CompleteProfile)

	// Google OAuth federation
	r.Get("/api/auth/google", h.Auth.GoogleRedirect)
	r.Get("/api/auth/google/callback", h.Auth.GoogleCallback)

	// Public profiles
	r.Get("/api/users", h.Profile.Search)
	r.Get("/api/users/{username}", h.Profile.GetByUsername)

	// Own profile
	r.With(requireSession).Patch("/api/profile", h.Profile.Update)
	r.With(requireSession).Delete("/api/profile", h.Profile.Delete)

	// WebSocket endpoint streaming the caller's session events
	r.Get("/ws/session", h.Session.Stream)
}
