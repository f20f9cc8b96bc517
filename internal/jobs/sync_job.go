package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stevedore/internal/models"
	"stevedore/internal/reconcile"
	"stevedore/internal/scrape"
	"stevedore/pkg/logging"
)

// SubjectLister provides the set of subjects with background sync enabled
type SubjectLister interface {
	ListSyncEnabled(ctx context.Context) ([]models.Subject, error)
}

// SyncJob periodically reconciles every sync-enabled subject so dashboards
// stay current without anyone pressing the sync button
type SyncJob struct {
	orchestrator *reconcile.Orchestrator
	subjects     SubjectLister
	logger       logging.Logger
	interval     time.Duration
	runTimeout   time.Duration
	runsTotal    *prometheus.CounterVec
	itemsTotal   *prometheus.CounterVec
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// SyncJobConfig holds configuration for the background sync job
type SyncJobConfig struct {
	Orchestrator *reconcile.Orchestrator
	Subjects     SubjectLister
	Logger       logging.Logger
	Interval     time.Duration          // How often to sweep all subjects (default: 6 hours)
	RunTimeout   time.Duration          // Ceiling per subject run (default: 10 minutes)
	RunsTotal    *prometheus.CounterVec // Optional sync_runs_total counter, labelled by status
	ItemsTotal   *prometheus.CounterVec // Optional sync_items_total counter, labelled by outcome
}

// NewSyncJob creates a new background sync job
func NewSyncJob(cfg SyncJobConfig) *SyncJob {
	interval := cfg.Interval
	if interval == 0 {
		interval = 6 * time.Hour
	}
	runTimeout := cfg.RunTimeout
	if runTimeout == 0 {
		runTimeout = 10 * time.Minute
	}
	return &SyncJob{
		orchestrator: cfg.Orchestrator,
		subjects:     cfg.Subjects,
		logger:       cfg.Logger,
		interval:     interval,
		runTimeout:   runTimeout,
		runsTotal:    cfg.RunsTotal,
		itemsTotal:   cfg.ItemsTotal,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the background sync loop
func (j *SyncJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Info("Background sync job started")
}

// Stop gracefully stops the job
func (j *SyncJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("Background sync job stopped")
}

func (j *SyncJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// First sweep shortly after startup so a fresh deploy catches up without
	// hammering the provider while the rest of the stack is still warming
	startup := time.NewTimer(2 * time.Minute)
	defer startup.Stop()

	for {
		select {
		case <-startup.C:
			j.sweep()
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

// sweep reconciles each enabled subject in turn. Subjects run sequentially;
// per-item concurrency inside a run is enough parallelism, and sequential
// runs keep provider pressure predictable.
func (j *SyncJob) sweep() {
	ctx := context.Background()

	subjects, err := j.subjects.ListSyncEnabled(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Failed to list sync-enabled subjects")
		return
	}
	if len(subjects) == 0 {
		return
	}

	j.logger.WithField("subjects", len(subjects)).Info("Starting background sync sweep")

	for _, subject := range subjects {
		select {
		case <-j.stopCh:
			return
		default:
		}
		j.syncOne(ctx, subject)
	}
}

func (j *SyncJob) syncOne(ctx context.Context, subject models.Subject) {
	runCtx, cancel := context.WithTimeout(ctx, j.runTimeout)
	defer cancel()

	log := j.logger.WithField("subject_id", subject.ID)

	report, err := j.orchestrator.Run(runCtx, subject)
	if err != nil {
		// Budget exhaustion is expected when the manual button was used a
		// lot today; log quietly and move on
		if errors.Is(err, scrape.ErrBudgetExhausted) {
			j.countRun("budget_exhausted")
			log.Info("Skipping subject, scrape budget exhausted")
			return
		}
		if errors.Is(err, reconcile.ErrEmptyDataset) {
			j.countRun("error")
			log.Warn("Provider returned no content for subject")
			return
		}
		j.countRun("error")
		log.WithError(err).Error("Background sync run failed")
		return
	}
	j.countRun("success")
	j.countItems(reconcile.OutcomeCreated, report.Created)
	j.countItems(reconcile.OutcomeUpdated, report.Updated)
	j.countItems(reconcile.OutcomeSkipped, report.Skipped)

	log.WithFields(logging.Fields{
		"created": report.Created,
		"updated": report.Updated,
		"skipped": report.Skipped,
	}).Info("Background sync run completed")
}

func (j *SyncJob) countRun(status string) {
	if j.runsTotal != nil {
		j.runsTotal.WithLabelValues(status).Inc()
	}
}

func (j *SyncJob) countItems(outcome reconcile.Outcome, n int) {
	if j.itemsTotal != nil && n > 0 {
		j.itemsTotal.WithLabelValues(string(outcome)).Add(float64(n))
	}
}
