package store

import (
	"context"
	"database/sql"
	"fmt"

	"stevedore/internal/models"
)

// RunStore persists reconciliation run reports
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store backed by Postgres
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Save inserts one run report
func (s *RunStore) Save(ctx context.Context, run models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stevedore.sync_runs (
			id, subject_id, started_at, finished_at,
			selected, created, updated, skipped, items
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		run.ID,
		run.SubjectID,
		run.StartedAt,
		run.FinishedAt,
		run.Selected,
		run.Created,
		run.Updated,
		run.Skipped,
		[]byte(run.Items),
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// ListRecent returns the most recent runs for a subject, newest first
func (s *RunStore) ListRecent(ctx context.Context, subjectID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, started_at, finished_at,
		       selected, created, updated, skipped, items
		FROM stevedore.sync_runs
		WHERE subject_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var items []byte
		if err := rows.Scan(
			&run.ID,
			&run.SubjectID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Selected,
			&run.Created,
			&run.Updated,
			&run.Skipped,
			&items,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.Items = items
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
