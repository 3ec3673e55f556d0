package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchline/internal/database"
)

func TestPostgresStore(t *testing.T) {
	// Skip if running without a database
	url := os.Getenv("BRANCHLINE_TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("BRANCHLINE_TEST_DATABASE_URL not set")
	}

	db, err := database.NewDB(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)

	// every subtest seeds its own uuid-keyed thread so runs do not collide
	runStoreContract(t, func(t *testing.T) Store { return NewPostgresStore(db) })
}
