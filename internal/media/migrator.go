package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"stevedore/pkg/clients"
	"stevedore/pkg/logging"
)

// Migration limits. Scraped CDN URLs are time-limited, so fetches are kept
// short and bounded; a failed migration degrades to the source URL rather
// than blocking the run.
const (
	defaultFetchTimeout = 30 * time.Second
	maxMediaBytes       = 50 << 20 // 50 MB
	defaultUserAgent    = "stevedore-media-migrator/1.0 (+https://github.com/stevedore)"
)

// Uploader writes media bytes to permanent storage
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Host() string
}

// Memo remembers completed migrations so each source URL is migrated at most once
type Memo interface {
	Lookup(ctx context.Context, sourceURL string) (string, bool, error)
	Record(ctx context.Context, sourceURL, permanentURL string) error
}

// Config holds migrator tuning
type Config struct {
	FetchTimeout time.Duration
	UserAgent    string
	Retry        *clients.RetryConfig
}

// Migrator copies externally hosted, possibly time-limited media into
// storage the system controls indefinitely.
type Migrator struct {
	uploader   Uploader
	memo       Memo
	httpClient *http.Client
	userAgent  string
	retry      clients.RetryConfig
	logger     logging.Logger
}

// New creates a media migrator
func New(cfg Config, uploader Uploader, memo Memo, logger logging.Logger) *Migrator {
	timeout := cfg.FetchTimeout
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	retry := clients.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	return &Migrator{
		uploader: uploader,
		memo:     memo,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: clients.DefaultTransport(),
		},
		userAgent: userAgent,
		retry:     retry,
		logger:    logger,
	}
}

// Migrate returns a permanent URL for the given media URL.
//
// URLs already hosted on permanent storage pass through unchanged without a
// network fetch. Previously migrated URLs resolve from the memo. Otherwise
// the resource is fetched and uploaded under a collision-resistant key.
// Fetch and upload failures are soft: the empty string is returned and the
// caller keeps the best available URL.
func (m *Migrator) Migrate(ctx context.Context, subjectID, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", nil
	}

	// Idempotent no-op for URLs we already control
	if strings.Contains(sourceURL, m.uploader.Host()) {
		return sourceURL, nil
	}

	if m.memo != nil {
		if permanent, ok, err := m.memo.Lookup(ctx, sourceURL); err != nil {
			m.logger.WithError(err).Warn("Migration memo lookup failed")
		} else if ok {
			return permanent, nil
		}
	}

	body, contentType, err := m.fetch(ctx, sourceURL)
	if err != nil {
		m.logger.WithError(err).WithField("url", sourceURL).Warn("Media fetch failed")
		return "", err
	}
	defer body.Close()

	key := fmt.Sprintf("media/%s/%s%s", subjectID, uuid.New().String(), extensionFor(contentType))

	permanent, err := m.uploader.Upload(ctx, key, contentType, io.LimitReader(body, maxMediaBytes))
	if err != nil {
		m.logger.WithError(err).WithField("url", sourceURL).Warn("Media upload failed")
		return "", err
	}

	if m.memo != nil {
		if err := m.memo.Record(ctx, sourceURL, permanent); err != nil {
			m.logger.WithError(err).Warn("Migration memo write failed")
		}
	}

	m.logger.WithFields(logging.Fields{
		"source": sourceURL,
		"url":    permanent,
	}).Info("Migrated media to permanent storage")

	return permanent, nil
}

func (m *Migrator) fetch(ctx context.Context, sourceURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := clients.DoWithRetry(ctx, m.httpClient, req, m.retry)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return resp.Body, contentType, nil
}

// extensionFor maps a media content type to a file extension, falling back
// to .bin for anything unrecognized.
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
