package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stevedore/internal/models"
)

// SnapshotStore persists daily metric snapshots for trend charts
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store backed by Postgres
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Upsert writes the latest value for (subject, metric, day). At most one row
// exists per composite key; repeated same-day writes overwrite the value.
func (s *SnapshotStore) Upsert(ctx context.Context, subjectID, metric string, day time.Time, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stevedore.metric_snapshots (subject_id, metric, day, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (subject_id, metric, day)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, subjectID, metric, day.UTC().Truncate(24*time.Hour), value)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Series returns the snapshot series for a metric over the last N days,
// oldest first.
func (s *SnapshotStore) Series(ctx context.Context, subjectID, metric string, days int) ([]models.MetricSnapshot, error) {
	if days <= 0 {
		days = 30
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, metric, day, value
		FROM stevedore.metric_snapshots
		WHERE subject_id = $1 AND metric = $2
		  AND day >= CURRENT_DATE - $3::int
		ORDER BY day ASC
	`, subjectID, metric, days)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.MetricSnapshot
	for rows.Next() {
		var snap models.MetricSnapshot
		if err := rows.Scan(&snap.SubjectID, &snap.Metric, &snap.Day, &snap.Value); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}
