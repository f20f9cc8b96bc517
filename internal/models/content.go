package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Origin describes how a content record came into the system
type Origin string

const (
	OriginAuthored  Origin = "authored"
	OriginGenerated Origin = "generated"
	OriginSynced    Origin = "synced"
)

// EngagementMetrics holds cumulative engagement counters as reported by the
// external provider. Values are absolute totals, not deltas.
type EngagementMetrics struct {
	Views    int64 `json:"views" db:"views"`
	Likes    int64 `json:"likes" db:"likes"`
	Comments int64 `json:"comments" db:"comments"`
	Shares   int64 `json:"shares" db:"shares"`
	Saves    int64 `json:"saves" db:"saves"`
}

// AuthorStats holds profile-level stats reported alongside each scraped item
type AuthorStats struct {
	Followers  int64 `json:"followers"`
	TotalLikes int64 `json:"total_likes"`
}

// ExternalItem is one content record as reported by the scrape provider in a
// given run. Immutable once fetched.
type ExternalItem struct {
	ExternalID  string            `json:"external_id"`
	RawText     string            `json:"raw_text"`
	PublishedAt time.Time         `json:"published_at"`
	AuthorStats AuthorStats       `json:"author_stats"`
	Metrics     EngagementMetrics `json:"metrics"`
	MediaURLs   []string          `json:"media_urls"`
}

// ContentRecord is a persisted content entity owned by the dashboard.
//
// Once Origin != synced the reconciliation engine may only write Metrics and
// a one-time ExternalID promotion. Body is author-controlled and is never
// overwritten by the engine once non-empty.
type ContentRecord struct {
	ID            string            `json:"id" db:"id"`
	SubjectID     string            `json:"subject_id" db:"subject_id"`
	ExternalID    *string           `json:"external_id,omitempty" db:"external_id"`
	Origin        Origin            `json:"origin" db:"origin"`
	Title         string            `json:"title" db:"title"`
	Body          string            `json:"body" db:"body"`
	Slides        JSONB             `json:"slides,omitempty" db:"slides"`
	PublishedAt   time.Time         `json:"published_at" db:"published_at"`
	CoverMediaURL string            `json:"cover_media_url" db:"cover_media_url"`
	Metrics       EngagementMetrics `json:"metrics"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// Linked reports whether the record already carries an external identity
func (r *ContentRecord) Linked() bool {
	return r.ExternalID != nil && *r.ExternalID != ""
}

// Subject is a creator profile tracked by the dashboard
type Subject struct {
	ID          string    `json:"id" db:"id"`
	Handle      string    `json:"handle" db:"handle"`
	SyncEnabled bool      `json:"sync_enabled" db:"sync_enabled"`
	SyncLimit   int       `json:"sync_limit" db:"sync_limit"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// MetricSnapshot is one time-series data point: the latest value of a metric
// for a subject on a calendar day. At most one row per (subject, metric, day).
type MetricSnapshot struct {
	SubjectID string    `json:"subject_id" db:"subject_id"`
	Metric    string    `json:"metric" db:"metric"`
	Day       time.Time `json:"day" db:"day"`
	Value     int64     `json:"value" db:"value"`
}

// SyncRun is a persisted record of one reconciliation run, kept for the
// dashboard's sync history view.
type SyncRun struct {
	ID         string          `json:"id" db:"id"`
	SubjectID  string          `json:"subject_id" db:"subject_id"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt time.Time       `json:"finished_at" db:"finished_at"`
	Selected   int             `json:"selected" db:"selected"`
	Created    int             `json:"created" db:"created"`
	Updated    int             `json:"updated" db:"updated"`
	Skipped    int             `json:"skipped" db:"skipped"`
	Items      json.RawMessage `json:"items,omitempty" db:"items"`
}

// SyncResult is the invocation result surfaced to the caller of a sync run
type SyncResult struct {
	Success        bool   `json:"success"`
	NewRecords     int    `json:"new_records"`
	UpdatedRecords int    `json:"updated_records"`
	Error          string `json:"error,omitempty"`
}
