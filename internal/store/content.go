package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"stevedore/internal/models"
)

// ErrDuplicateExternalID is returned when a create collides with the
// uniqueness constraint on (subject_id, external_id). Callers treat it as
// "already exists" and fall back to update semantics.
var ErrDuplicateExternalID = errors.New("record with this external ID already exists")

// ErrNotFound is returned when a record lookup matches nothing
var ErrNotFound = errors.New("record not found")

// uniqueViolation is the Postgres error code for unique_violation
const uniqueViolation = "23505"

// ContentStore persists content records
type ContentStore struct {
	db *sql.DB
}

// NewContentStore creates a content store backed by Postgres
func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{db: db}
}

const contentColumns = `
	id, subject_id, external_id, origin, title, body, slides,
	published_at, cover_media_url,
	views, likes, comments, shares, saves,
	created_at, updated_at
`

func scanRecord(row interface{ Scan(...interface{}) error }) (*models.ContentRecord, error) {
	var rec models.ContentRecord
	var externalID sql.NullString
	var slides models.JSONB

	err := row.Scan(
		&rec.ID,
		&rec.SubjectID,
		&externalID,
		&rec.Origin,
		&rec.Title,
		&rec.Body,
		&slides,
		&rec.PublishedAt,
		&rec.CoverMediaURL,
		&rec.Metrics.Views,
		&rec.Metrics.Likes,
		&rec.Metrics.Comments,
		&rec.Metrics.Shares,
		&rec.Metrics.Saves,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if externalID.Valid {
		rec.ExternalID = &externalID.String
	}
	rec.Slides = slides
	return &rec, nil
}

// FindCandidates returns the subject's records eligible for similarity
// matching: everything the engine did not create itself. These carry
// human-authored intent; linked records are resolved by the dedup index
// before the matcher runs.
func (s *ContentStore) FindCandidates(ctx context.Context, subjectID string) ([]models.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		FROM stevedore.content_records
		WHERE subject_id = $1 AND origin != 'synced'
		ORDER BY published_at DESC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var records []models.ContentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// FindLinked returns externalID -> recordID for every record of the subject
// that already carries an external identity. Used to seed the dedup index.
func (s *ContentStore) FindLinked(ctx context.Context, subjectID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, id
		FROM stevedore.content_records
		WHERE subject_id = $1 AND external_id IS NOT NULL
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query linked records: %w", err)
	}
	defer rows.Close()

	linked := make(map[string]string)
	for rows.Next() {
		var externalID, id string
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, fmt.Errorf("scan linked record: %w", err)
		}
		linked[externalID] = id
	}
	return linked, rows.Err()
}

// Create inserts a new content record and returns its ID. A collision with
// the (subject_id, external_id) uniqueness constraint is surfaced as
// ErrDuplicateExternalID.
func (s *ContentStore) Create(ctx context.Context, record *models.ContentRecord) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stevedore.content_records (
			subject_id, external_id, origin, title, body, slides,
			published_at, cover_media_url,
			views, likes, comments, shares, saves,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING id
	`,
		record.SubjectID,
		record.ExternalID,
		string(record.Origin),
		record.Title,
		record.Body,
		record.Slides,
		record.PublishedAt,
		record.CoverMediaURL,
		record.Metrics.Views,
		record.Metrics.Likes,
		record.Metrics.Comments,
		record.Metrics.Shares,
		record.Metrics.Saves,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return "", ErrDuplicateExternalID
		}
		return "", fmt.Errorf("insert content record: %w", err)
	}

	record.ID = id
	return id, nil
}

// UpdateMetrics overwrites the engine-owned metrics counters with the latest
// absolute totals and optionally promotes a previously-null external_id.
// Body, title, and slides are never touched here.
func (s *ContentStore) UpdateMetrics(ctx context.Context, recordID string, metrics models.EngagementMetrics, promoteExternalID *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stevedore.content_records
		SET views = $2, likes = $3, comments = $4, shares = $5, saves = $6,
		    external_id = COALESCE(external_id, $7),
		    updated_at = NOW()
		WHERE id = $1
	`,
		recordID,
		metrics.Views,
		metrics.Likes,
		metrics.Comments,
		metrics.Shares,
		metrics.Saves,
		promoteExternalID,
	)
	if err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update metrics result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByExternalID fetches a record by its external identity
func (s *ContentStore) GetByExternalID(ctx context.Context, subjectID, externalID string) (*models.ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+`
		FROM stevedore.content_records
		WHERE subject_id = $1 AND external_id = $2
	`, subjectID, externalID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get by external id: %w", err)
	}
	return rec, nil
}
