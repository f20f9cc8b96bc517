package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stevedore/internal/models"
)

// SubjectStore reads tracked creator profiles
type SubjectStore struct {
	db *sql.DB
}

// NewSubjectStore creates a subject store backed by Postgres
func NewSubjectStore(db *sql.DB) *SubjectStore {
	return &SubjectStore{db: db}
}

// Get fetches one subject by ID
func (s *SubjectStore) Get(ctx context.Context, subjectID string) (*models.Subject, error) {
	var subject models.Subject
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, sync_enabled, sync_limit, created_at
		FROM stevedore.subjects
		WHERE id = $1
	`, subjectID).Scan(
		&subject.ID,
		&subject.Handle,
		&subject.SyncEnabled,
		&subject.SyncLimit,
		&subject.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return &subject, nil
}

// ListSyncEnabled returns all subjects with periodic sync turned on
func (s *SubjectStore) ListSyncEnabled(ctx context.Context) ([]models.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, sync_enabled, sync_limit, created_at
		FROM stevedore.subjects
		WHERE sync_enabled = TRUE
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list sync-enabled subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(
			&subject.ID,
			&subject.Handle,
			&subject.SyncEnabled,
			&subject.SyncLimit,
			&subject.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}
