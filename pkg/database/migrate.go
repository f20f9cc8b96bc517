package database

import (
	"context"
	"fmt"
	"sort"

	dbsql "stevedore/pkg/database/sql"
	"stevedore/pkg/logging"
)

// ApplySchema executes every embedded schema file against the connection.
// Statements are idempotent (CREATE IF NOT EXISTS) so this is safe to run on
// every startup.
func ApplySchema(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	entries, err := dbsql.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read embedded schema dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := dbsql.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read embedded schema %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply schema %s: %w", name, err)
		}
		logger.WithField("file", name).Info("Applied schema")
	}
	return nil
}
