package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// PostgresConnString returns the connection string of the PostgreSQL server
// used by integration tests. The test is skipped unless DATABASE_URL or
// PGHOST is set.
func PostgresConnString(t *testing.T) string {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("PGHOST") == "" {
		t.Skip("DATABASE_URL or PGHOST is not set")
	}
	return getConnString()
}

// TempDBPath returns a path for a fresh SQLite database file inside a
// directory removed when the test completes.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), fmt.Sprintf("connpool-%s.db", uuid.NewString()))
}

// UniqueName returns a table name that does not collide across parallel
// tests sharing one database.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

func getConnString() string {
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		return connStr
	}

	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "postgres")
	password := getEnvOrDefault("PGPASSWORD", "postgres")
	database := getEnvOrDefault("PGDATABASE", "postgres")

	if password != "" {
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, database,
		)
	}
	return fmt.Sprintf(
		"postgres://%s@%s:%s/%s?sslmode=disable",
		user, host, port, database,
	)
}

// getEnvOrDefault retrieves an environment variable or returns a default value
// if the variable is not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
