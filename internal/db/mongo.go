// Package db handles MongoDB client bootstrap for the groups service.
package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"grouphub/internal/domain"
)

const connectTimeout = 10 * time.Second

// Connect opens a MongoDB client for the given URI and verifies the
// connection with a ping. The caller owns the client and must call
// Disconnect on shutdown.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, domain.ErrUnavailable(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, domain.ErrUnavailable(err, "ping mongodb")
	}
	return client, nil
}
