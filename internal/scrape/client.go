package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stevedore/internal/models"
	"stevedore/pkg/clients"
	"stevedore/pkg/logging"
)

// Poll bounds for the provider's dataset handle. The provider runs the
// scrape as a job; the engine only issues the call and fetches the final
// dataset.
const (
	defaultPollInterval = 3 * time.Second
	defaultMaxPolls     = 60
)

// ErrRunFailed is returned when the provider reports a failed scrape job
var ErrRunFailed = errors.New("scrape run failed")

// Config represents the configuration for the scrape provider client
type Config struct {
	BaseURL              string
	APIToken             string
	Timeout              time.Duration
	PollInterval         time.Duration
	MaxPolls             int
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// Client calls the external scrape provider
type Client struct {
	baseURL      string
	apiToken     string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	logger       logging.Logger
	retryConfig  clients.RetryConfig
}

// NewClient creates a new scrape provider client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.MaxPolls == 0 {
		config.MaxPolls = defaultMaxPolls
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	// Add circuit breaker if configured
	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		apiToken:     config.APIToken,
		httpClient:   httpClient,
		pollInterval: config.PollInterval,
		maxPolls:     config.MaxPolls,
		logger:       config.Logger,
		retryConfig:  retryConfig,
	}
}

type startRunRequest struct {
	Handle string `json:"handle"`
	Limit  int    `json:"limit"`
}

type runStatusResponse struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	DatasetID string `json:"dataset_id"`
	Error     string `json:"error"`
}

// providerItem is the provider's wire shape for one scraped post
type providerItem struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	CreateTime int64  `json:"create_time"`
	Author     struct {
		FollowerCount int64 `json:"follower_count"`
		HeartCount    int64 `json:"heart_count"`
	} `json:"author"`
	Stats struct {
		PlayCount    int64 `json:"play_count"`
		DiggCount    int64 `json:"digg_count"`
		CommentCount int64 `json:"comment_count"`
		ShareCount   int64 `json:"share_count"`
		CollectCount int64 `json:"collect_count"`
	} `json:"stats"`
	MediaURLs []string `json:"media_urls"`
}

func (p providerItem) toModel() models.ExternalItem {
	return models.ExternalItem{
		ExternalID:  p.ID,
		RawText:     p.Text,
		PublishedAt: time.Unix(p.CreateTime, 0).UTC(),
		AuthorStats: models.AuthorStats{
			Followers:  p.Author.FollowerCount,
			TotalLikes: p.Author.HeartCount,
		},
		Metrics: models.EngagementMetrics{
			Views:    p.Stats.PlayCount,
			Likes:    p.Stats.DiggCount,
			Comments: p.Stats.CommentCount,
			Shares:   p.Stats.ShareCount,
			Saves:    p.Stats.CollectCount,
		},
		MediaURLs: p.MediaURLs,
	}
}

// RunSync starts a scrape job for the subject's handle, polls the job until
// its dataset is ready, and returns the dataset items.
func (c *Client) RunSync(ctx context.Context, subjectHandle string, limit int) ([]models.ExternalItem, error) {
	runID, err := c.startRun(ctx, subjectHandle, limit)
	if err != nil {
		return nil, err
	}

	datasetID, err := c.waitForDataset(ctx, runID)
	if err != nil {
		return nil, err
	}

	return c.fetchDataset(ctx, datasetID)
}

func (c *Client) startRun(ctx context.Context, handle string, limit int) (string, error) {
	payload, err := json.Marshal(startRunRequest{Handle: handle, Limit: limit})
	if err != nil {
		return "", fmt.Errorf("marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/runs", strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return "", fmt.Errorf("failed to call scrape provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("scrape provider returned %d", resp.StatusCode)
	}

	var status runStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode run response: %w", err)
	}
	if status.RunID == "" {
		return "", fmt.Errorf("scrape provider returned no run ID")
	}

	c.logger.WithFields(logging.Fields{
		"handle": handle,
		"run_id": status.RunID,
	}).Debug("Scrape run started")

	return status.RunID, nil
}

func (c *Client) waitForDataset(ctx context.Context, runID string) (string, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		status, err := c.runStatus(ctx, runID)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case "succeeded":
			if status.DatasetID == "" {
				return "", fmt.Errorf("run %s succeeded without a dataset", runID)
			}
			return status.DatasetID, nil
		case "failed":
			if status.Error != "" {
				return "", fmt.Errorf("%w: %s", ErrRunFailed, status.Error)
			}
			return "", ErrRunFailed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return "", fmt.Errorf("run %s did not finish after %d polls", runID, c.maxPolls)
}

func (c *Client) runStatus(ctx context.Context, runID string) (*runStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to poll run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("run status returned %d", resp.StatusCode)
	}

	var status runStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	return &status, nil
}

func (c *Client) fetchDataset(ctx context.Context, datasetID string) ([]models.ExternalItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/datasets/"+url.PathEscape(datasetID)+"/items", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dataset fetch returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw []providerItem
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset items: %w", err)
	}

	items := make([]models.ExternalItem, 0, len(raw))
	for _, item := range raw {
		if item.ID == "" {
			continue
		}
		items = append(items, item.toModel())
	}

	return items, nil
}
