package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMediaMigrationLookupHit(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT permanent_url(.+)FROM stevedore.media_migrations").
		WithArgs("https://cdn.example.com/a.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"permanent_url"}).
			AddRow("https://media.example.com/media/a.jpg"))

	s := NewMediaMigrationStore(db)
	url, found, err := s.Lookup(context.Background(), "https://cdn.example.com/a.jpg")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found || url != "https://media.example.com/media/a.jpg" {
		t.Errorf("Lookup = %q, %v", url, found)
	}
}

func TestMediaMigrationLookupMiss(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT permanent_url").
		WithArgs("https://cdn.example.com/missing.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"permanent_url"}))

	s := NewMediaMigrationStore(db)
	_, found, err := s.Lookup(context.Background(), "https://cdn.example.com/missing.jpg")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Error("miss reported as hit")
	}
}

func TestMediaMigrationRecord(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO stevedore.media_migrations(.+)ON CONFLICT \\(source_url\\) DO NOTHING").
		WithArgs("https://cdn.example.com/a.jpg", "https://media.example.com/media/a.jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewMediaMigrationStore(db)
	if err := s.Record(context.Background(), "https://cdn.example.com/a.jpg", "https://media.example.com/media/a.jpg"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
