package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"stevedore/internal/models"
)

var contentRows = []string{
	"id", "subject_id", "external_id", "origin", "title", "body", "slides",
	"published_at", "cover_media_url",
	"views", "likes", "comments", "shares", "saves",
	"created_at", "updated_at",
}

func contentRow(id, externalID, origin, body string, published time.Time) []driverValue {
	var ext interface{}
	if externalID != "" {
		ext = externalID
	}
	return []driverValue{
		id, "subj-1", ext, origin, "Title", body, []byte(`{}`),
		published, "https://media.example.com/x.jpg",
		int64(10), int64(2), int64(1), int64(0), int64(0),
		published, published,
	}
}

type driverValue = driver.Value

func TestFindCandidatesExcludesSynced(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	published := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT(.+)FROM stevedore.content_records(.+)origin != 'synced'").
		WithArgs("subj-1").
		WillReturnRows(sqlmock.NewRows(contentRows).
			AddRow(contentRow("rec-1", "", "authored", "my draft body", published)...).
			AddRow(contentRow("rec-2", "ext-9", "generated", "generated body", published)...))

	s := NewContentStore(db)
	records, err := s.FindCandidates(context.Background(), "subj-1")
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ExternalID != nil {
		t.Error("null external_id scanned as non-nil")
	}
	if records[1].ExternalID == nil || *records[1].ExternalID != "ext-9" {
		t.Error("external_id not scanned")
	}
	if records[0].Metrics.Views != 10 {
		t.Errorf("views = %d, want 10", records[0].Metrics.Views)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindLinkedBuildsMap(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT external_id, id(.+)external_id IS NOT NULL").
		WithArgs("subj-1").
		WillReturnRows(sqlmock.NewRows([]string{"external_id", "id"}).
			AddRow("ext-1", "rec-1").
			AddRow("ext-2", "rec-2"))

	s := NewContentStore(db)
	linked, err := s.FindLinked(context.Background(), "subj-1")
	if err != nil {
		t.Fatalf("FindLinked: %v", err)
	}

	if len(linked) != 2 || linked["ext-1"] != "rec-1" || linked["ext-2"] != "rec-2" {
		t.Errorf("linked = %v", linked)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO stevedore.content_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-new"))

	extID := "ext-1"
	s := NewContentStore(db)
	record := &models.ContentRecord{
		SubjectID:   "subj-1",
		ExternalID:  &extID,
		Origin:      models.OriginSynced,
		Title:       "New post",
		PublishedAt: time.Now(),
	}

	id, err := s.Create(context.Background(), record)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "rec-new" || record.ID != "rec-new" {
		t.Errorf("id = %q, record.ID = %q", id, record.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO stevedore.content_records").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "content_records_subject_external_unique"})

	extID := "ext-1"
	s := NewContentStore(db)
	_, err = s.Create(context.Background(), &models.ContentRecord{
		SubjectID:  "subj-1",
		ExternalID: &extID,
		Origin:     models.OriginSynced,
		Title:      "Dup",
	})

	if !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("err = %v, want ErrDuplicateExternalID", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateMetricsPromotesExternalID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	extID := "ext-1"
	mock.ExpectExec("UPDATE stevedore.content_records").
		WithArgs("rec-1", int64(100), int64(10), int64(5), int64(2), int64(1), &extID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewContentStore(db)
	metrics := models.EngagementMetrics{Views: 100, Likes: 10, Comments: 5, Shares: 2, Saves: 1}
	if err := s.UpdateMetrics(context.Background(), "rec-1", metrics, &extID); err != nil {
		t.Fatalf("UpdateMetrics: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateMetricsMissingRecord(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE stevedore.content_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewContentStore(db)
	err = s.UpdateMetrics(context.Background(), "rec-gone", models.EngagementMetrics{}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByExternalIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT(.+)FROM stevedore.content_records(.+)external_id = \\$2").
		WithArgs("subj-1", "ext-missing").
		WillReturnRows(sqlmock.NewRows(contentRows))

	s := NewContentStore(db)
	_, err = s.GetByExternalID(context.Background(), "subj-1", "ext-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
