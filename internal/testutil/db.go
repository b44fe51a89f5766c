package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/xxxsen/mflix/internal/config"
	"github.com/xxxsen/mflix/internal/docstore"
)

// OpenTestDB opens a throwaway database: a fresh mongo database when
// TEST_MONGO_URI is set, otherwise the in-process memory backend.
func OpenTestDB(t *testing.T) (docstore.Database, func()) {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "memory", Name: "mflix_test"}
	if uri := os.Getenv("TEST_MONGO_URI"); uri != "" {
		cfg = config.DatabaseConfig{
			Driver: "mongo",
			Name:   "mflix_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			Data:   map[string]interface{}{"uri": uri},
		}
	}
	db, err := docstore.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db, func() {
		_ = db.Close(context.Background())
	}
}
