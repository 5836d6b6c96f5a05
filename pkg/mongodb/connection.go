// Package mongodb opens the document store backing the catalog when catalog.backend is mongo.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DB wraps a connected client and the database the service uses.
type DB struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewConnection connects to uri and pings the server before returning.
func NewConnection(ctx context.Context, uri, database string) (*DB, error) {
	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &DB{
		client:   client,
		database: client.Database(database),
	}, nil
}

// Close disconnects the client.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Database returns the configured database handle.
func (db *DB) Database() *mongo.Database {
	return db.database
}
