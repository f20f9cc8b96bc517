package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stevedore/internal/models"
	"stevedore/internal/store"
	"stevedore/pkg/logging"
)

// DefaultConcurrency bounds the per-run item worker pool. Items are
// independent once past the dedup check, so media migration and metric
// writes run in parallel.
const DefaultConcurrency = 4

// MaxTitleLen bounds titles derived from scraped captions
const MaxTitleLen = 80

// Tracked snapshot metrics, recorded once per run from post-run totals
const (
	MetricFollowers  = "followers"
	MetricTotalViews = "total_views"
	MetricTotalLikes = "total_likes"
)

// ErrEmptyDataset is returned when the provider returns no items; the run is
// fatal and no partial state is created.
var ErrEmptyDataset = errors.New("provider returned empty dataset")

// Provider fetches the subject's external items for one run
type Provider interface {
	RunSync(ctx context.Context, subjectHandle string, limit int) ([]models.ExternalItem, error)
}

// RequestBudget guards the per-subject provider request allowance. Passed in
// explicitly rather than held as process-wide state.
type RequestBudget interface {
	Consume(ctx context.Context, subjectID string) error
}

// ContentStore is the subset of the content store the orchestrator needs
type ContentStore interface {
	FindCandidates(ctx context.Context, subjectID string) ([]models.ContentRecord, error)
	FindLinked(ctx context.Context, subjectID string) (map[string]string, error)
	Create(ctx context.Context, record *models.ContentRecord) (string, error)
	UpdateMetrics(ctx context.Context, recordID string, metrics models.EngagementMetrics, promoteExternalID *string) error
	GetByExternalID(ctx context.Context, subjectID, externalID string) (*models.ContentRecord, error)
}

// SnapshotStore records one time-series data point per metric per day
type SnapshotStore interface {
	Upsert(ctx context.Context, subjectID, metric string, day time.Time, value int64) error
}

// MediaMigrator copies an ephemeral media URL into permanent storage
type MediaMigrator interface {
	Migrate(ctx context.Context, subjectID, sourceURL string) (string, error)
}

// RunSink persists finished run reports for the dashboard's sync history
type RunSink interface {
	Save(ctx context.Context, run models.SyncRun) error
}

// Config holds orchestrator tuning
type Config struct {
	SyncLimit   int // per-subject item budget, clamped to [MinSyncLimit, MaxSyncLimit]
	Concurrency int
	Matcher     MatcherConfig
}

// Deps holds the orchestrator's collaborators
type Deps struct {
	Provider  Provider
	Budget    RequestBudget
	Content   ContentStore
	Snapshots SnapshotStore
	Migrator  MediaMigrator
	Runs      RunSink
	Logger    logging.Logger
}

// Orchestrator runs the reconciliation control loop for one subject at a time
type Orchestrator struct {
	cfg       Config
	provider  Provider
	budget    RequestBudget
	content   ContentStore
	snapshots SnapshotStore
	migrator  MediaMigrator
	runs      RunSink
	matcher   *Matcher
	logger    logging.Logger
}

// New creates a reconciliation orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		cfg:       cfg,
		provider:  deps.Provider,
		budget:    deps.Budget,
		content:   deps.Content,
		snapshots: deps.Snapshots,
		migrator:  deps.Migrator,
		runs:      deps.Runs,
		matcher:   NewMatcher(cfg.Matcher),
		logger:    deps.Logger,
	}
}

// Run executes one reconciliation batch for a subject.
//
// Provider and budget failures are fatal for the run. Per-item failures are
// recorded in the report and never abort the batch. Cancellation stops at
// item boundaries; completed writes are retained, never rolled back.
func (o *Orchestrator) Run(ctx context.Context, subject models.Subject) (*RunReport, error) {
	report := &RunReport{
		ID:        uuid.New().String(),
		SubjectID: subject.ID,
		StartedAt: time.Now().UTC(),
	}

	if o.budget != nil {
		if err := o.budget.Consume(ctx, subject.ID); err != nil {
			return nil, fmt.Errorf("provider request budget: %w", err)
		}
	}

	limit := ClampSyncLimit(subject.SyncLimit)
	if o.cfg.SyncLimit > 0 {
		limit = ClampSyncLimit(o.cfg.SyncLimit)
	}

	items, err := o.provider.RunSync(ctx, subject.Handle, limit)
	if err != nil {
		return nil, fmt.Errorf("scrape provider: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyDataset
	}

	selected := SelectTop(items, limit)
	report.Selected = len(selected)

	linked, err := o.content.FindLinked(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("load linked records: %w", err)
	}
	idx := NewDedupIndex(linked)

	candidates, err := o.content.FindCandidates(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("load candidate records: %w", err)
	}

	o.logger.WithFields(logging.Fields{
		"subject_id": subject.ID,
		"selected":   len(selected),
		"linked":     idx.Len(),
		"candidates": len(candidates),
	}).Info("Reconciliation run started")

	var mu sync.Mutex
	results := make([]ItemResult, 0, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, item := range selected {
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := o.reconcileItem(gctx, subject, item, idx, candidates)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Cancellation at an item boundary; keep what finished.
		report.Items = results
		report.Tally()
		report.FinishedAt = time.Now().UTC()
		return report, err
	}

	report.Items = results
	report.Tally()
	report.FinishedAt = time.Now().UTC()

	o.recordSnapshots(ctx, subject, selected)
	o.persistReport(ctx, report)

	o.logger.WithFields(logging.Fields{
		"subject_id": subject.ID,
		"created":    report.Created,
		"updated":    report.Updated,
		"skipped":    report.Skipped,
		"duration":   report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Reconciliation run finished")

	return report, nil
}

// reconcileItem drives one external item to a terminal state:
// dedup hit -> metrics updated; matcher hit -> metrics updated, body
// untouched; no match -> media migrated, record created.
func (o *Orchestrator) reconcileItem(ctx context.Context, subject models.Subject, item models.ExternalItem, idx *DedupIndex, candidates []models.ContentRecord) ItemResult {
	log := o.logger.WithFields(logging.Fields{
		"subject_id":  subject.ID,
		"external_id": item.ExternalID,
	})

	// Dedup hit: the external ID is already linked to a record, either from a
	// previous run or earlier in this batch. Metrics-only update, matcher
	// skipped entirely.
	if recordID, ok := idx.Lookup(item.ExternalID); ok {
		if err := o.content.UpdateMetrics(ctx, recordID, item.Metrics, nil); err != nil {
			log.WithError(err).Error("Metrics update failed")
			return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeSkipped, Reason: "metrics update failed: " + err.Error()}
		}
		return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeUpdated, Strategy: StrategyExternalID}
	}

	match := o.matcher.Match(item, candidates)
	if match.Matched {
		// Counters are stored as reported, even when the provider returns a
		// lower value than last time.
		for _, cand := range candidates {
			if cand.ID != match.RecordID {
				continue
			}
			if item.Metrics.Views < cand.Metrics.Views {
				log.WithFields(logging.Fields{
					"record_id": match.RecordID,
					"stored":    cand.Metrics.Views,
					"reported":  item.Metrics.Views,
				}).Debug("Provider view count below stored value")
			}
			break
		}

		// One-time promotion: linking the matched record to the external
		// identity. Body is never touched.
		externalID := item.ExternalID
		if err := o.content.UpdateMetrics(ctx, match.RecordID, item.Metrics, &externalID); err != nil {
			log.WithError(err).Error("Metrics update failed on matched record")
			return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeSkipped, Strategy: match.Strategy, Reason: "metrics update failed: " + err.Error()}
		}
		idx.Insert(item.ExternalID, match.RecordID)
		log.WithFields(logging.Fields{
			"record_id":  match.RecordID,
			"strategy":   string(match.Strategy),
			"confidence": match.Confidence,
		}).Info("Matched existing record")
		return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeUpdated, Strategy: match.Strategy}
	}

	return o.createRecord(ctx, subject, item, idx, log)
}

func (o *Orchestrator) createRecord(ctx context.Context, subject models.Subject, item models.ExternalItem, idx *DedupIndex, log *logrus.Entry) ItemResult {
	coverURL := ""
	if len(item.MediaURLs) > 0 {
		coverURL = item.MediaURLs[0]
	}

	// Migrate media before the write. Migration failure degrades to the
	// ephemeral URL; freshness matters more than immediate permanence.
	if coverURL != "" && o.migrator != nil {
		permanent, err := o.migrator.Migrate(ctx, subject.ID, coverURL)
		if err != nil {
			log.WithError(err).Warn("Media migration failed, keeping source URL")
		} else if permanent != "" {
			coverURL = permanent
		}
	}

	externalID := item.ExternalID
	record := &models.ContentRecord{
		SubjectID:     subject.ID,
		ExternalID:    &externalID,
		Origin:        models.OriginSynced,
		Title:         TitleFromRawText(item.RawText),
		PublishedAt:   item.PublishedAt,
		CoverMediaURL: coverURL,
		Metrics:       item.Metrics,
	}

	recordID, err := o.content.Create(ctx, record)
	if errors.Is(err, store.ErrDuplicateExternalID) {
		// A concurrent run created the record first. Fall back to update
		// semantics rather than failing the item.
		existing, getErr := o.content.GetByExternalID(ctx, subject.ID, item.ExternalID)
		if getErr != nil {
			log.WithError(getErr).Error("Duplicate external ID but record not found")
			return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeSkipped, Reason: "constraint race lookup failed: " + getErr.Error()}
		}
		if updErr := o.content.UpdateMetrics(ctx, existing.ID, item.Metrics, nil); updErr != nil {
			log.WithError(updErr).Error("Metrics update failed after constraint race")
			return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeSkipped, Reason: "metrics update failed: " + updErr.Error()}
		}
		idx.Insert(item.ExternalID, existing.ID)
		return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeUpdated, Strategy: StrategyExternalID, Reason: "created by concurrent run"}
	}
	if err != nil {
		log.WithError(err).Error("Record create failed")
		return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeSkipped, Reason: "create failed: " + err.Error()}
	}

	idx.Insert(item.ExternalID, recordID)
	log.WithField("record_id", recordID).Info("Created synced record")
	return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeCreated}
}

// recordSnapshots upserts one data point per tracked metric for today from
// the post-run totals. Repeated same-day runs overwrite the same rows.
func (o *Orchestrator) recordSnapshots(ctx context.Context, subject models.Subject, items []models.ExternalItem) {
	if o.snapshots == nil || len(items) == 0 {
		return
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)

	var totalViews, totalLikes int64
	for _, item := range items {
		totalViews += item.Metrics.Views
		totalLikes += item.Metrics.Likes
	}

	values := map[string]int64{
		MetricFollowers:  items[0].AuthorStats.Followers,
		MetricTotalViews: totalViews,
		MetricTotalLikes: totalLikes,
	}

	for metric, value := range values {
		if err := o.snapshots.Upsert(ctx, subject.ID, metric, day, value); err != nil {
			o.logger.WithError(err).WithFields(logging.Fields{
				"subject_id": subject.ID,
				"metric":     metric,
			}).Error("Snapshot upsert failed")
		}
	}
}

// persistReport saves the finished report; a write failure is logged but
// never fails a run that already did its work.
func (o *Orchestrator) persistReport(ctx context.Context, report *RunReport) {
	if o.runs == nil {
		return
	}

	items, err := json.Marshal(report.Items)
	if err != nil {
		o.logger.WithError(err).Error("Run report encode failed")
		return
	}

	run := models.SyncRun{
		ID:         report.ID,
		SubjectID:  report.SubjectID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Selected:   report.Selected,
		Created:    report.Created,
		Updated:    report.Updated,
		Skipped:    report.Skipped,
		Items:      items,
	}
	if err := o.runs.Save(ctx, run); err != nil {
		o.logger.WithError(err).WithField("run_id", report.ID).Error("Run report write failed")
	}
}

// TitleFromRawText derives a display title from scraped caption text: the
// first non-empty line, truncated to MaxTitleLen.
func TitleFromRawText(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > MaxTitleLen {
			return string(runes[:MaxTitleLen])
		}
		return line
	}
	return "Untitled"
}
