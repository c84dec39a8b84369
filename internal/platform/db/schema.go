package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSchema rejects schema names that cannot be interpolated into SQL
// unquoted.
func ValidateSchema(schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name: %q", schema)
	}
	return nil
}

// SearchPath returns the search_path value used for schema.
func SearchPath(schema string) string {
	if schema == "public" {
		return "public"
	}
	return schema + ", public"
}

// EnsureSchema creates schema if needed and applies all pending migrations
// from migrationsDir to it. An empty migrationsDir skips migrations.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema, migrationsDir string) (int, error) {
	if err := ValidateSchema(schema); err != nil {
		return 0, err
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir == "" {
		return 0, nil
	}
	n, err := NewMigrator(pool, migrationsDir, schema).Up(ctx)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
