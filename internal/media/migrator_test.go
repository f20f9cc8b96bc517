package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"stevedore/pkg/clients"
	"stevedore/pkg/logging"
)

type fakeUploader struct {
	mu      sync.Mutex
	host    string
	err     error
	uploads []uploadCall
}

type uploadCall struct {
	key         string
	contentType string
	size        int64
}

func (u *fakeUploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	n, _ := io.Copy(io.Discard, body)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, uploadCall{key: key, contentType: contentType, size: n})
	return "https://" + u.host + "/" + key, nil
}

func (u *fakeUploader) Host() string { return u.host }

type memoryMemo struct {
	mu sync.Mutex
	m  map[string]string
}

func (m *memoryMemo) Lookup(ctx context.Context, sourceURL string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url, ok := m.m[sourceURL]
	return url, ok, nil
}

func (m *memoryMemo) Record(ctx context.Context, sourceURL, permanentURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = make(map[string]string)
	}
	m.m[sourceURL] = permanentURL
	return nil
}

func noRetry() *clients.RetryConfig {
	return &clients.RetryConfig{MaxRetries: 0, RetryFunc: clients.DefaultShouldRetry}
}

func newTestMigrator(uploader *fakeUploader, memo Memo) *Migrator {
	return New(Config{Retry: noRetry()}, uploader, memo, logging.NewLogger())
}

func TestMigrateFetchesAndUploads(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "stevedore") {
			t.Errorf("user agent = %q", ua)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	uploader := &fakeUploader{host: "media.example.com"}
	m := newTestMigrator(uploader, &memoryMemo{})

	permanent, err := m.Migrate(context.Background(), "subj-1", server.URL+"/cover.jpg")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if !strings.HasPrefix(permanent, "https://media.example.com/media/subj-1/") {
		t.Errorf("permanent URL = %s", permanent)
	}
	if !strings.HasSuffix(permanent, ".jpg") {
		t.Errorf("extension missing: %s", permanent)
	}
	if len(uploader.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(uploader.uploads))
	}
	if uploader.uploads[0].contentType != "image/jpeg" {
		t.Errorf("content type = %s", uploader.uploads[0].contentType)
	}
	if uploader.uploads[0].size != int64(len("jpeg-bytes")) {
		t.Errorf("uploaded %d bytes", uploader.uploads[0].size)
	}
	if requests != 1 {
		t.Errorf("fetched %d times, want 1", requests)
	}
}

func TestMigratePermanentURLPassesThrough(t *testing.T) {
	uploader := &fakeUploader{host: "media.example.com"}
	m := newTestMigrator(uploader, &memoryMemo{})

	src := "https://media.example.com/media/subj-1/existing.jpg"
	permanent, err := m.Migrate(context.Background(), "subj-1", src)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if permanent != src {
		t.Errorf("permanent = %s, want source unchanged", permanent)
	}
	if len(uploader.uploads) != 0 {
		t.Error("already-permanent URL was re-uploaded")
	}
}

func TestMigrateMemoHitSkipsFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("network fetch despite memo hit")
	}))
	defer server.Close()

	memo := &memoryMemo{}
	src := server.URL + "/cover.jpg"
	memo.Record(context.Background(), src, "https://media.example.com/media/subj-1/known.jpg")

	uploader := &fakeUploader{host: "media.example.com"}
	m := newTestMigrator(uploader, memo)

	permanent, err := m.Migrate(context.Background(), "subj-1", src)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if permanent != "https://media.example.com/media/subj-1/known.jpg" {
		t.Errorf("permanent = %s", permanent)
	}
}

func TestMigrateRecordsMemoAfterUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	}))
	defer server.Close()

	memo := &memoryMemo{}
	uploader := &fakeUploader{host: "media.example.com"}
	m := newTestMigrator(uploader, memo)

	src := server.URL + "/a.png"
	permanent, err := m.Migrate(context.Background(), "subj-1", src)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	got, ok, _ := memo.Lookup(context.Background(), src)
	if !ok || got != permanent {
		t.Errorf("memo = %q, %v, want %q", got, ok, permanent)
	}
}

func TestMigrateFetchFailureIsSoft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	uploader := &fakeUploader{host: "media.example.com"}
	m := newTestMigrator(uploader, &memoryMemo{})

	permanent, err := m.Migrate(context.Background(), "subj-1", server.URL+"/expired.jpg")
	if err == nil {
		t.Fatal("expected error for expired URL")
	}
	if permanent != "" {
		t.Errorf("permanent = %q, want empty", permanent)
	}
	if len(uploader.uploads) != 0 {
		t.Error("upload attempted after failed fetch")
	}
}

func TestMigrateUploadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("x"))
	}))
	defer server.Close()

	uploader := &fakeUploader{host: "media.example.com", err: errors.New("bucket unavailable")}
	memo := &memoryMemo{}
	m := newTestMigrator(uploader, memo)

	src := server.URL + "/a.jpg"
	if _, err := m.Migrate(context.Background(), "subj-1", src); err == nil {
		t.Fatal("expected upload error")
	}
	if _, ok, _ := memo.Lookup(context.Background(), src); ok {
		t.Error("memo recorded despite failed upload")
	}
}

func TestMigrateEmptyURL(t *testing.T) {
	uploader := &fakeUploader{host: "media.example.com"}
	m := newTestMigrator(uploader, &memoryMemo{})

	permanent, err := m.Migrate(context.Background(), "subj-1", "")
	if err != nil || permanent != "" {
		t.Errorf("Migrate(\"\") = %q, %v", permanent, err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":       ".jpg",
		"image/png":        ".png",
		"image/webp":       ".webp",
		"video/mp4":        ".mp4",
		"application/json": ".bin",
		"":                 ".bin",
	}
	for contentType, want := range tests {
		if got := extensionFor(contentType); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", contentType, got, want)
		}
	}
}
