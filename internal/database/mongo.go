// Package database opens the backing connections. Every constructor pings
// before returning so startup fails fast instead of at first request.
package database

import (
	"context"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultMongoDatabase = "greenbook"

// ConnectMongo connects to MongoDB and returns the client plus the database
// named in the URI (or the default when the URI carries none).
func ConnectMongo(mongoURI string) (*mongo.Client, *mongo.Database, error) {
	// Longer timeout for Atlas connections
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, err
	}

	log.Println("✅ Connected to MongoDB")
	return client, client.Database(databaseName(mongoURI)), nil
}

// databaseName pulls the database name out of a mongodb:// URI.
// Format: mongodb://.../database_name?...
func databaseName(mongoURI string) string {
	parts := strings.Split(mongoURI, "/")
	if len(parts) > 3 {
		name := strings.Split(parts[len(parts)-1], "?")[0]
		if name != "" {
			return name
		}
	}
	return defaultMongoDatabase
}

// DisconnectMongo closes the client with a bounded timeout.
func DisconnectMongo(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}
