// Package testutil provides shared helpers for tests across the codebase.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"grouphub/internal/db"
)

// MongoURIEnv names the environment variable holding the MongoDB URI for
// integration tests. Tests skip when it is unset.
const MongoURIEnv = "GROUPHUB_TEST_MONGO_URI"

// OpenMongo connects to the test MongoDB instance, hands back a throwaway
// database unique to the test, and registers cleanup that drops it. Skips
// the test when GROUPHUB_TEST_MONGO_URI is unset.
func OpenMongo(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv(MongoURIEnv)
	if uri == "" {
		t.Skipf("set %s to run MongoDB integration tests", MongoURIEnv)
	}

	ctx := context.Background()
	client, err := db.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect to test mongodb: %v", err)
	}

	name := fmt.Sprintf("grouphub_test_%d", time.Now().UnixNano())
	database := client.Database(name)

	t.Cleanup(func() {
		_ = database.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	return database
}
