package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/greenbook-app/greenbook-backend/internal/auth"
	"github.com/greenbook-app/greenbook-backend/internal/config"
	"github.com/greenbook-app/greenbook-backend/internal/database"
	"github.com/greenbook-app/greenbook-backend/internal/handlers"
	"github.com/greenbook-app/greenbook-backend/internal/identity"
	"github.com/greenbook-app/greenbook-backend/internal/middleware"
	"github.com/greenbook-app/greenbook-backend/internal/routes"
	"github.com/greenbook-app/greenbook-backend/internal/services"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	// Connect to PostgreSQL
	log.Printf("Connecting to PostgreSQL...")
	db, err := database.ConnectPostgres(cfg.PostgresURI)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()

	// Connect to Redis
	log.Printf("Connecting to Redis...")
	redisClient, err := database.ConnectRedis(cfg.RedisURI)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	// Connect to MongoDB (mask credentials in the log)
	log.Printf("Connecting to MongoDB...")
	log.Printf("MongoDB URI: %s", maskMongoURI(cfg.MongoURI))
	mongoClient, mongoDB, err := database.ConnectMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer database.DisconnectMongo(mongoClient)

	// Identity layer: Mongo-backed profile store plus the protocol service
	store := identity.NewMongoStore(mongoClient, mongoDB)
	if err := store.EnsureIndexes(context.Background()); err != nil {
		log.Printf("⚠️  WARNING: failed to ensure MongoDB indexes: %v", err)
	} else {
		log.Println("✅ MongoDB indexes ensured")
	}
	identitySvc := identity.NewService(store, cfg.AvailabilityFailOpen)
	if cfg.AvailabilityFailOpen {
		log.Println("Availability checks fail open on permission errors")
	}

	// Auth provider: principals in Postgres, sessions in Redis
	sessions := auth.NewSessionStore(redisClient)
	authSvc, err := auth.NewService(db, sessions)
	if err != nil {
		log.Fatal("Failed to initialize auth service:", err)
	}

	var google *auth.GoogleProvider
	if cfg.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL)
		log.Println("✅ Google sign-in configured")
	} else {
		log.Println("Google sign-in not configured (GOOGLE_CLIENT_ID/SECRET unset)")
	}

	accounts := services.NewAccountService(authSvc, identitySvc)

	// Router. All routes, /health included, are registered inside
	// SetupRoutes after its middleware chain.
	r := chi.NewRouter()
	routes.SetupRoutes(r, routes.Handlers{
		Auth:           handlers.NewAuthHandler(accounts, authSvc, google, cfg.FrontendURL),
		Profile:        handlers.NewProfileHandler(accounts),
		Session:        handlers.NewSessionHandler(authSvc),
		Sessions:       authSvc,
		Limiter:        middleware.NewRateLimiter(redisClient),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	log.Printf("🚀 Greenbook backend running on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// maskMongoURI hides the password in a mongodb:// URI for logging.
func maskMongoURI(uri string) string {
	if !strings.Contains(uri, "@") {
		return uri
	}
	parts := strings.Split(uri, "@")
	if userPass := strings.Split(parts[0], ":"); len(userPass) >= 3 {
		return strings.Replace(uri, userPass[2], "***", 1)
	}
	return uri
}
