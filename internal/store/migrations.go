package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MediaMigrationStore memoizes completed media migrations so each source URL
// is fetched and uploaded at most once across runs.
type MediaMigrationStore struct {
	db *sql.DB
}

// NewMediaMigrationStore creates a media migration memo backed by Postgres
func NewMediaMigrationStore(db *sql.DB) *MediaMigrationStore {
	return &MediaMigrationStore{db: db}
}

// Lookup returns the permanent URL previously recorded for a source URL
func (s *MediaMigrationStore) Lookup(ctx context.Context, sourceURL string) (string, bool, error) {
	var permanentURL string
	err := s.db.QueryRowContext(ctx, `
		SELECT permanent_url
		FROM stevedore.media_migrations
		WHERE source_url = $1
	`, sourceURL).Scan(&permanentURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup media migration: %w", err)
	}
	return permanentURL, true, nil
}

// Record stores a completed migration. Concurrent writers racing on the same
// source URL are harmless: first write wins, the upload is already durable.
func (s *MediaMigrationStore) Record(ctx context.Context, sourceURL, permanentURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stevedore.media_migrations (source_url, permanent_url, migrated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_url) DO NOTHING
	`, sourceURL, permanentURL)
	if err != nil {
		return fmt.Errorf("record media migration: %w", err)
	}
	return nil
}
